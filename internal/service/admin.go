// ABOUTME: Gateway-wide state and admin operations
// ABOUTME: Controllers manage global roles; global managers create namespaces

package service

import (
	"context"
	"slices"
	"strings"

	"github.com/2389/cose-gateway/internal/store"
)

// StateInit seeds the persisted state on first start.
type StateInit struct {
	Name        string
	KeyName     string
	Managers    []store.Principal
	Auditors    []store.Principal
	AllowedAPIs []string
}

// EnsureState creates the state record on first start. On later starts
// only the oracle key name is refreshed; roles and the allow-list keep
// whatever admins changed them to.
func (s *Service) EnsureState(ctx context.Context, init StateInit) (*store.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.repo.GetState(ctx)
	switch {
	case err == nil:
		if init.KeyName != "" && st.KeyName != init.KeyName {
			s.logger.Info("updating key name", "from", st.KeyName, "to", init.KeyName)
			st.KeyName = init.KeyName
			if err := s.repo.SaveState(ctx, st); err != nil {
				return nil, err
			}
		}
		return st, nil
	case !isNotFound(err):
		return nil, err
	}

	st = &store.State{
		Name:        init.Name,
		KeyName:     init.KeyName,
		Managers:    store.NewPrincipals(init.Managers...),
		Auditors:    store.NewPrincipals(init.Auditors...),
		AllowedAPIs: normalizeAPIs(init.AllowedAPIs),
	}
	if err := s.repo.SaveState(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("initialized state", "name", st.Name, "managers", len(st.Managers))
	return st, nil
}

func normalizeAPIs(apis []string) []string {
	out := make([]string, 0, len(apis))
	for _, a := range apis {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// StateGetInfo returns gateway-wide state.
func (s *Service) StateGetInfo(ctx context.Context, caller store.Principal) (info *StateInfo, err error) {
	ctx, done := s.begin(ctx, MethodStateGetInfo)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	info = &StateInfo{
		Name:           st.Name,
		Managers:       st.Managers.Clone(),
		Auditors:       st.Auditors.Clone(),
		NamespaceTotal: total,
	}
	if s.controllers.Has(caller) || st.Managers.Has(caller) || st.Auditors.Has(caller) {
		info.KeyName = st.KeyName
		info.AllowedAPIs = slices.Clone(st.AllowedAPIs)
	}
	return info, nil
}

// changeState applies fn to the state on behalf of a controller.
func (s *Service) changeState(ctx context.Context, caller store.Principal, method string, fn func(st *store.State) error) (err error) {
	ctx, done := s.begin(ctx, method)
	defer done(&err)

	if err := authenticated(caller); err != nil {
		return err
	}
	if !s.controllers.Has(caller) {
		return denied("caller is not a controller")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(ctx)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	if err := s.repo.SaveState(ctx, st); err != nil {
		return err
	}
	s.audit(ctx, caller, store.AuditChangeState, "state", method, nil)
	return nil
}

// AdminAddManagers adds global managers.
func (s *Service) AdminAddManagers(ctx context.Context, caller store.Principal, ps []store.Principal) error {
	if err := validatePrincipals(ps); err != nil {
		return err
	}
	return s.changeState(ctx, caller, MethodAdminAddManagers, func(st *store.State) error {
		st.Managers = st.Managers.Add(ps...)
		return nil
	})
}

// AdminRemoveManagers removes global managers.
func (s *Service) AdminRemoveManagers(ctx context.Context, caller store.Principal, ps []store.Principal) error {
	if err := validatePrincipals(ps); err != nil {
		return err
	}
	return s.changeState(ctx, caller, MethodAdminRemoveManagers, func(st *store.State) error {
		st.Managers = st.Managers.Remove(ps...)
		return nil
	})
}

// AdminAddAuditors adds global auditors.
func (s *Service) AdminAddAuditors(ctx context.Context, caller store.Principal, ps []store.Principal) error {
	if err := validatePrincipals(ps); err != nil {
		return err
	}
	return s.changeState(ctx, caller, MethodAdminAddAuditors, func(st *store.State) error {
		st.Auditors = st.Auditors.Add(ps...)
		return nil
	})
}

// AdminRemoveAuditors removes global auditors.
func (s *Service) AdminRemoveAuditors(ctx context.Context, caller store.Principal, ps []store.Principal) error {
	if err := validatePrincipals(ps); err != nil {
		return err
	}
	return s.changeState(ctx, caller, MethodAdminRemoveAuditors, func(st *store.State) error {
		st.Auditors = st.Auditors.Remove(ps...)
		return nil
	})
}

// AdminAddAllowedAPIs adds methods to the allow-list. Once the list is
// non-empty, mutations not on it are rejected.
func (s *Service) AdminAddAllowedAPIs(ctx context.Context, caller store.Principal, apis []string) error {
	if len(apis) == 0 {
		return invalid("apis must not be empty")
	}
	return s.changeState(ctx, caller, MethodAdminAddAPIs, func(st *store.State) error {
		st.AllowedAPIs = normalizeAPIs(append(slices.Clone(st.AllowedAPIs), apis...))
		return nil
	})
}

// AdminRemoveAllowedAPIs removes methods from the allow-list.
func (s *Service) AdminRemoveAllowedAPIs(ctx context.Context, caller store.Principal, apis []string) error {
	if len(apis) == 0 {
		return invalid("apis must not be empty")
	}
	return s.changeState(ctx, caller, MethodAdminRemoveAPIs, func(st *store.State) error {
		st.AllowedAPIs = slices.DeleteFunc(slices.Clone(st.AllowedAPIs), func(a string) bool {
			return slices.Contains(apis, a)
		})
		return nil
	})
}

// AdminCreateNamespace creates a namespace. Only global managers may.
func (s *Service) AdminCreateNamespace(ctx context.Context, caller store.Principal, in *CreateNamespaceInput) (info *NamespaceInfo, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceCreate)
	defer done(&err)

	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, MethodNamespaceCreate); err != nil {
		return nil, err
	}
	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Managers.Has(caller) {
		return nil, denied("caller is not a global manager")
	}

	now := s.nowMS()
	ns := &store.Namespace{
		Name:               in.Name,
		Desc:               in.Desc,
		CreatedAt:          now,
		UpdatedAt:          now,
		MaxPayloadSize:     MaxPayloadSize,
		Visibility:         in.Visibility,
		Managers:           store.NewPrincipals(in.Managers...),
		Auditors:           store.NewPrincipals(in.Auditors...),
		Users:              store.NewPrincipals(in.Users...),
		SessionExpiresInMS: DefaultSessionExpiresInMS,
	}
	if in.MaxPayloadSize != nil {
		ns.MaxPayloadSize = *in.MaxPayloadSize
	}
	if in.SessionExpiresInMS != nil {
		ns.SessionExpiresInMS = *in.SessionExpiresInMS
	}
	if err := s.repo.CreateNamespace(ctx, ns); err != nil {
		return nil, err
	}

	s.audit(ctx, caller, store.AuditCreateNamespace, "namespace", ns.Name, map[string]any{
		"visibility": ns.Visibility,
	})
	s.logger.Debug("created namespace", "ns", ns.Name, "caller", caller)
	return namespaceInfo(ns), nil
}

// AdminListNamespaces lists namespaces in descending name order, strictly
// before prev when set. take defaults to 10 and is capped at 100.
func (s *Service) AdminListNamespaces(ctx context.Context, caller store.Principal, prev string, take int) (out []*NamespaceInfo, err error) {
	ctx, done := s.begin(ctx, MethodAdminListNamespaces)
	defer done(&err)

	switch {
	case take <= 0:
		take = 10
	case take > 100:
		take = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Managers.Has(caller) && !st.Auditors.Has(caller) {
		return nil, denied("caller is not a global manager or auditor")
	}
	list, err := s.repo.ListNamespaces(ctx, prev, take)
	if err != nil {
		return nil, err
	}
	out = make([]*NamespaceInfo, 0, len(list))
	for _, ns := range list {
		out = append(out, namespaceInfo(ns))
	}
	return out, nil
}

// ListAuditLog returns audit entries to global managers and auditors.
func (s *Service) ListAuditLog(ctx context.Context, caller store.Principal, f store.AuditFilter) (out []store.AuditEntry, err error) {
	ctx, done := s.begin(ctx, MethodAuditList)
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Managers.Has(caller) && !st.Auditors.Has(caller) {
		return nil, denied("caller is not a global manager or auditor")
	}
	return s.repo.ListAuditLog(ctx, f)
}
