// ABOUTME: Fixed pseudonymous identities and delegation issuance
// ABOUTME: Delegators registered per name may obtain session delegations

package service

import (
	"context"
	"strings"

	"github.com/2389/cose-gateway/internal/delegation"
	"github.com/2389/cose-gateway/internal/store"
)

// NamespaceGetFixedIdentity derives the pseudonymous identity of name in
// ns. It reads no namespace state beyond the gateway name.
func (s *Service) NamespaceGetFixedIdentity(ctx context.Context, ns, name string) (id *delegation.Identity, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceFixedIdentity)
	defer done(&err)

	name = strings.ToLower(name)
	if err := validateName("namespace", ns); err != nil {
		return nil, err
	}
	if err := validateName("name", name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	st, err := s.state(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return delegation.FixedIdentity(st.Name, ns, name)
}

// NamespaceAddDelegators registers delegators for a fixed identity name.
func (s *Service) NamespaceAddDelegators(ctx context.Context, caller store.Principal, in *NamespaceDelegatorsInput) error {
	return s.changeDelegators(ctx, caller, MethodNamespaceAddDelegators, in, true)
}

// NamespaceRemoveDelegators unregisters delegators. A name left without
// delegators is dropped.
func (s *Service) NamespaceRemoveDelegators(ctx context.Context, caller store.Principal, in *NamespaceDelegatorsInput) error {
	return s.changeDelegators(ctx, caller, MethodNamespaceRemoveDelegators, in, false)
}

func (s *Service) changeDelegators(ctx context.Context, caller store.Principal, method string, in *NamespaceDelegatorsInput, add bool) error {
	in.Name = strings.ToLower(in.Name)
	if err := in.Validate(); err != nil {
		return err
	}
	return s.mutateNamespace(ctx, caller, method, in.NS, store.AuditChangeDelegators, func(ns *store.Namespace) error {
		if ns.FixedIDNames == nil {
			ns.FixedIDNames = make(map[string]store.Principals)
		}
		current := ns.FixedIDNames[in.Name]
		if add {
			current = current.Add(in.Delegators...)
		} else {
			current = current.Remove(in.Delegators...)
		}
		if len(current) == 0 {
			delete(ns.FixedIDNames, in.Name)
		} else {
			ns.FixedIDNames[in.Name] = current
		}
		return nil
	})
}

// NamespaceGetDelegators lists the delegators of name.
func (s *Service) NamespaceGetDelegators(ctx context.Context, caller store.Principal, nsName, name string) (out store.Principals, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceGetDelegators)
	defer done(&err)

	name = strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.namespace(ctx, nsName)
	if err != nil {
		return nil, err
	}
	if !ns.CanRead(caller) {
		return nil, denied("caller cannot read namespace %s", nsName)
	}
	delegators, ok := ns.FixedIDNames[name]
	if !ok {
		return nil, ErrNotFound
	}
	return delegators.Clone(), nil
}

// delegationPolicy checks that caller may obtain a delegation for name and
// returns the session length. Callers hold mu.
func (s *Service) delegationPolicy(ctx context.Context, caller store.Principal, nsName, name string) (uint64, error) {
	ns, err := s.namespace(ctx, nsName)
	if err != nil {
		return 0, err
	}
	if !ns.IsDelegator(name, caller) {
		return 0, denied("caller is not a delegator of %s", name)
	}
	if ns.SessionExpiresInMS == 0 {
		return 0, ErrDisabled
	}
	return ns.SessionExpiresInMS, nil
}

// NamespaceSignDelegation issues a session delegation for a fixed
// identity. The caller proves control of the session key by signing the
// challenge for (ns, name, caller).
func (s *Service) NamespaceSignDelegation(ctx context.Context, caller store.Principal, in *SignDelegationInput) (out *delegation.SignInResponse, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceSignDelegation)
	defer done(&err)

	in.Name = strings.ToLower(in.Name)
	if err := validateName("namespace", in.NS); err != nil {
		return nil, err
	}
	if err := validateName("name", in.Name); err != nil {
		return nil, err
	}
	if err := delegation.VerifyChallenge(in.PublicKey, in.Sig, in.NS, in.Name, string(caller)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var issuer string
	err = s.beginUpdate(ctx, caller, MethodNamespaceSignDelegation)
	var session uint64
	if err == nil {
		session, err = s.delegationPolicy(ctx, caller, in.NS, in.Name)
	}
	if err == nil {
		var st *store.State
		if st, err = s.state(ctx); err == nil {
			issuer = st.Name
		}
	}
	now := s.nowMS()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	id, err := delegation.FixedIdentity(issuer, in.NS, in.Name)
	if err != nil {
		return nil, err
	}
	expiration := saturatingMul(saturatingAdd(now, session), 1_000_000)
	pending, err := s.issuer.Sign(ctx, id, in.PublicKey, expiration)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.delegationPolicy(ctx, caller, in.NS, in.Name); err != nil {
		return nil, err
	}
	out, err = s.issuer.Commit(ctx, pending)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, caller, store.AuditSignDelegation, "namespace", in.NS, map[string]any{
		"name":      in.Name,
		"principal": out.Principal,
	})
	return out, nil
}

// GetDelegation returns a delegation issued by NamespaceSignDelegation.
func (s *Service) GetDelegation(ctx context.Context, in *GetDelegationInput) (out *delegation.SignedDelegation, err error) {
	ctx, done := s.begin(ctx, MethodGetDelegation)
	defer done(&err)

	if len(in.Seed) == 0 || len(in.PublicKey) == 0 {
		return nil, invalid("seed and pubkey are required")
	}
	if in.Expiration <= uint64(s.now().UnixNano()) {
		return nil, ErrNotFound
	}
	return s.issuer.Get(ctx, in.Seed, in.PublicKey, in.Expiration)
}
