// ABOUTME: Namespace operations: info, updates, membership, listing and deletion
// ABOUTME: Permission checks use the predicates on store.Namespace

package service

import (
	"context"

	"github.com/2389/cose-gateway/internal/store"
)

// namespace loads a namespace. Callers hold mu.
func (s *Service) namespace(ctx context.Context, name string) (*store.Namespace, error) {
	return s.repo.GetNamespace(ctx, name)
}

// mutateNamespace loads ns, requires write permission and commits fn's
// changes with a fresh updated_at.
func (s *Service) mutateNamespace(ctx context.Context, caller store.Principal, method, name string, action store.AuditAction, fn func(ns *store.Namespace) error) (err error) {
	ctx, done := s.begin(ctx, method)
	defer done(&err)

	if err := validateName("namespace", name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, method); err != nil {
		return err
	}
	ns, err := s.namespace(ctx, name)
	if err != nil {
		return err
	}
	if !ns.CanWrite(caller) {
		return denied("caller cannot write namespace %s", name)
	}
	if err := fn(ns); err != nil {
		return err
	}
	ns.UpdatedAt = s.nowMS()
	if err := s.repo.UpdateNamespace(ctx, ns); err != nil {
		return err
	}
	s.audit(ctx, caller, action, "namespace", name, map[string]any{"method": method})
	return nil
}

// NamespaceGetInfo returns a namespace the caller may read.
func (s *Service) NamespaceGetInfo(ctx context.Context, caller store.Principal, name string) (info *NamespaceInfo, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceGetInfo)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.namespace(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ns.CanRead(caller) {
		return nil, denied("caller cannot read namespace %s", name)
	}
	return namespaceInfo(ns), nil
}

// NamespaceUpdateInfo patches namespace metadata.
func (s *Service) NamespaceUpdateInfo(ctx context.Context, caller store.Principal, in *UpdateNamespaceInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return s.mutateNamespace(ctx, caller, MethodNamespaceUpdateInfo, in.Name, store.AuditUpdateNamespace, func(ns *store.Namespace) error {
		if in.Desc != nil {
			ns.Desc = *in.Desc
		}
		if in.MaxPayloadSize != nil {
			ns.MaxPayloadSize = *in.MaxPayloadSize
		}
		if in.Status != nil {
			ns.Status = *in.Status
		}
		if in.Visibility != nil {
			ns.Visibility = *in.Visibility
		}
		if in.SessionExpiresInMS != nil {
			ns.SessionExpiresInMS = *in.SessionExpiresInMS
		}
		return nil
	})
}

// NamespaceDelete removes a namespace that owns no settings.
func (s *Service) NamespaceDelete(ctx context.Context, caller store.Principal, name string) (err error) {
	ctx, done := s.begin(ctx, MethodNamespaceDelete)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, MethodNamespaceDelete); err != nil {
		return err
	}
	ns, err := s.namespace(ctx, name)
	if err != nil {
		return err
	}
	if !ns.CanWrite(caller) {
		return denied("caller cannot write namespace %s", name)
	}
	n, err := s.repo.CountSettings(ctx, name)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrNotEmpty
	}
	if err := s.repo.DeleteNamespace(ctx, name); err != nil {
		return err
	}
	s.audit(ctx, caller, store.AuditDeleteNamespace, "namespace", name, nil)
	s.logger.Debug("deleted namespace", "ns", name, "caller", caller)
	return nil
}

func memberMethod(kind MemberKind, add bool) (string, error) {
	switch {
	case kind == MemberManager && add:
		return MethodNamespaceAddManagers, nil
	case kind == MemberManager:
		return MethodNamespaceRemoveManagers, nil
	case kind == MemberAuditor && add:
		return MethodNamespaceAddAuditors, nil
	case kind == MemberAuditor:
		return MethodNamespaceRemoveAuditors, nil
	case kind == MemberUser && add:
		return MethodNamespaceAddUsers, nil
	case kind == MemberUser:
		return MethodNamespaceRemoveUsers, nil
	}
	return "", invalid("unknown member kind %q", string(kind))
}

func members(ns *store.Namespace, kind MemberKind) *store.Principals {
	switch kind {
	case MemberManager:
		return &ns.Managers
	case MemberAuditor:
		return &ns.Auditors
	default:
		return &ns.Users
	}
}

// NamespaceAddMembers adds principals to one of the namespace's sets.
func (s *Service) NamespaceAddMembers(ctx context.Context, caller store.Principal, name string, kind MemberKind, ps []store.Principal) error {
	return s.changeMembers(ctx, caller, name, kind, ps, true)
}

// NamespaceRemoveMembers removes principals from one of the namespace's sets.
func (s *Service) NamespaceRemoveMembers(ctx context.Context, caller store.Principal, name string, kind MemberKind, ps []store.Principal) error {
	return s.changeMembers(ctx, caller, name, kind, ps, false)
}

func (s *Service) changeMembers(ctx context.Context, caller store.Principal, name string, kind MemberKind, ps []store.Principal, add bool) error {
	method, err := memberMethod(kind, add)
	if err != nil {
		return err
	}
	if err := validatePrincipals(ps); err != nil {
		return err
	}
	return s.mutateNamespace(ctx, caller, method, name, store.AuditChangeMembers, func(ns *store.Namespace) error {
		set := members(ns, kind)
		if add {
			*set = set.Add(ps...)
		} else {
			*set = set.Remove(ps...)
		}
		return nil
	})
}

// NamespaceIsMember reports whether principal belongs to the kind set.
func (s *Service) NamespaceIsMember(ctx context.Context, caller store.Principal, name string, kind MemberKind, principal store.Principal) (ok bool, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceIsMember)
	defer done(&err)

	if _, err := memberMethod(kind, true); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.namespace(ctx, name)
	if err != nil {
		return false, err
	}
	if !ns.CanRead(caller) {
		return false, denied("caller cannot read namespace %s", name)
	}
	return members(ns, kind).Has(principal), nil
}

// NamespaceListSettingKeys lists live setting keys. Callers with full read
// permission may list any subject; users may list only their own keys.
func (s *Service) NamespaceListSettingKeys(ctx context.Context, caller store.Principal, name string, userOwned bool, subject *store.Principal) (out []SettingKey, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceListSettingKeys)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.namespace(ctx, name)
	if err != nil {
		return nil, err
	}
	switch ns.ReadPermission(caller) {
	case store.ReadFull:
	case store.ReadOwn:
		if subject != nil && *subject != caller {
			return nil, denied("caller may only list own settings")
		}
		subject = &caller
	default:
		return nil, denied("caller cannot read namespace %s", name)
	}

	scope := store.ScopeServer
	if userOwned {
		scope = store.ScopeUser
	}
	keys, err := s.repo.ListSettingKeys(ctx, name, scope, subject)
	if err != nil {
		return nil, err
	}
	out = make([]SettingKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, SettingKey{Subject: k.Subject, Key: k.Key, Version: k.Version})
	}
	return out, nil
}

// NamespaceTopUp credits gas to a namespace. Only global managers may.
func (s *Service) NamespaceTopUp(ctx context.Context, caller store.Principal, name string, amount uint64) (balance uint64, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceTopUp)
	defer done(&err)

	if amount == 0 {
		return 0, invalid("amount must be at least 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, MethodNamespaceTopUp); err != nil {
		return 0, err
	}
	st, err := s.state(ctx)
	if err != nil {
		return 0, err
	}
	if !st.Managers.Has(caller) {
		return 0, denied("caller is not a global manager")
	}
	ns, err := s.namespace(ctx, name)
	if err != nil {
		return 0, err
	}
	ns.GasBalance = saturatingAdd(ns.GasBalance, amount)
	ns.UpdatedAt = s.nowMS()
	if err := s.repo.UpdateNamespace(ctx, ns); err != nil {
		return 0, err
	}
	s.audit(ctx, caller, store.AuditTopUp, "namespace", name, map[string]any{"amount": amount})
	return ns.GasBalance, nil
}
