// ABOUTME: Setting operations: create, read, archive lookups and updates
// ABOUTME: Payload writes archive the previous version and bump the version

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/cose-gateway/internal/cose"
	"github.com/2389/cose-gateway/internal/store"
)

// readableSetting resolves key for caller: the namespace read check, the
// setting lookup and, where the namespace check defers, the readers list.
// Callers hold mu.
func (s *Service) readableSetting(ctx context.Context, caller store.Principal, key store.SettingPathKey) (*store.Namespace, *store.Setting, error) {
	ns, err := s.namespace(ctx, key.Namespace)
	if err != nil {
		return nil, nil, err
	}
	access := ns.SettingReadAccess(caller, key)
	if access == store.AccessDenied {
		return nil, nil, denied("caller cannot read setting %s", key)
	}
	setting, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if access == store.AccessCheckReaders && !setting.Readers.Has(caller) {
		return nil, nil, denied("caller cannot read setting %s", key)
	}
	if key.Version > setting.Version {
		return nil, nil, fmt.Errorf("%w: setting %s has no version %d", ErrNotFound, key, key.Version)
	}
	return ns, setting, nil
}

// content returns the payload and dek live at key.Version: the current
// record for 0 or the current version, the archive for older versions.
// Callers hold mu.
func (s *Service) content(ctx context.Context, key store.SettingPathKey, setting *store.Setting) (payload, dek []byte, err error) {
	if key.Version == 0 || key.Version == setting.Version {
		return setting.Payload, setting.DEK, nil
	}
	archived, err := s.repo.GetArchivedSetting(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return archived.Payload, archived.DEK, nil
}

// SettingGetInfo returns setting metadata without payload.
func (s *Service) SettingGetInfo(ctx context.Context, caller store.Principal, path SettingPath) (info *SettingInfo, err error) {
	ctx, done := s.begin(ctx, MethodSettingGetInfo)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, setting, err := s.readableSetting(ctx, caller, key)
	if err != nil {
		return nil, err
	}
	return settingInfo(key, setting), nil
}

// SettingGet returns a setting with its payload and dek. A version below
// the current one is served from the archive.
func (s *Service) SettingGet(ctx context.Context, caller store.Principal, path SettingPath) (info *SettingInfo, err error) {
	ctx, done := s.begin(ctx, MethodSettingGet)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, setting, err := s.readableSetting(ctx, caller, key)
	if err != nil {
		return nil, err
	}
	payload, dek, err := s.content(ctx, key, setting)
	if err != nil {
		return nil, err
	}
	info = settingInfo(key, setting)
	if key.Version != 0 {
		info.Version = key.Version
	}
	info.Payload = append([]byte(nil), payload...)
	info.DEK = append([]byte(nil), dek...)
	return info, nil
}

// SettingGetArchivedPayload returns the payload superseded at path.Version,
// which must satisfy 0 < version < current.
func (s *Service) SettingGetArchivedPayload(ctx context.Context, caller store.Principal, path SettingPath) (out *SettingArchivedPayload, err error) {
	ctx, done := s.begin(ctx, MethodSettingGetArchived)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, setting, err := s.readableSetting(ctx, caller, key)
	if err != nil {
		return nil, err
	}
	if key.Version == 0 || key.Version >= setting.Version {
		return nil, fmt.Errorf("%w: no archived version %d of %s", ErrNotFound, key.Version, key)
	}
	archived, err := s.repo.GetArchivedSetting(ctx, key)
	if err != nil {
		return nil, err
	}
	return &SettingArchivedPayload{
		Version:    archived.Version,
		ArchivedAt: archived.ArchivedAt,
		Deprecated: archived.Deprecated,
		Payload:    archived.Payload,
		DEK:        archived.DEK,
	}, nil
}

// validateContent checks a payload (and optional dek) against ns limits.
// It returns the number of bytes the write adds to the namespace total.
func validateContent(ns *store.Namespace, payload, dek []byte, encrypted bool, ctype uint8) (int, error) {
	if uint64(len(payload)) > ns.MaxPayloadSize {
		return 0, fmt.Errorf("%w: payload size %d exceeds the limit %d", ErrPayloadTooLarge, len(payload), ns.MaxPayloadSize)
	}
	if len(dek) > 0 {
		if _, err := cose.ParseEncrypt0(dek); err != nil {
			return 0, fmt.Errorf("dek: %w", err)
		}
	}
	switch {
	case len(payload) == 0:
	case encrypted:
		if _, err := cose.ParseEncrypt0(payload); err != nil {
			return 0, fmt.Errorf("payload: %w", err)
		}
	default:
		if err := cose.ValidatePayload(payload, ctype); err != nil {
			return 0, err
		}
	}
	return len(payload) + len(dek), nil
}

// SettingCreate creates a setting at version 1. Server-owned settings are
// written by namespace managers, user-owned settings by their subject.
func (s *Service) SettingCreate(ctx context.Context, caller store.Principal, path SettingPath, in *CreateSettingInput) (out *CreateSettingOutput, err error) {
	ctx, done := s.begin(ctx, MethodSettingCreate)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, MethodSettingCreate); err != nil {
		return nil, err
	}
	ns, err := s.namespace(ctx, key.Namespace)
	if err != nil {
		return nil, err
	}
	if !ns.CanWriteSetting(caller, key) {
		return nil, denied("caller cannot write setting %s", key)
	}
	if key.Version != 0 {
		return nil, fmt.Errorf("%w: create requires version 0", ErrVersionMismatch)
	}
	size, err := validateContent(ns, in.Payload, in.DEK, len(in.DEK) > 0, in.ContentType)
	if err != nil {
		return nil, err
	}

	now := s.nowMS()
	setting := &store.Setting{
		Desc:      in.Desc,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
		Tags:      in.Tags,
		Payload:   in.Payload,
		DEK:       in.DEK,
	}
	if in.Status != nil {
		setting.Status = *in.Status
	}
	ns.PayloadBytesTotal = saturatingAdd(ns.PayloadBytesTotal, uint64(size))
	if err := s.repo.CreateSetting(ctx, key, setting, ns); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %w: setting %s", ErrVersionMismatch, ErrAlreadyExists, key)
		}
		return nil, err
	}

	s.addPayloadBytes(ns.Name, size)
	s.audit(ctx, caller, store.AuditCreateSetting, "setting", key.String(), map[string]any{
		"encrypted": len(in.DEK) > 0,
		"bytes":     size,
	})
	s.logger.Debug("created setting", "key", key.String(), "caller", caller)
	return &CreateSettingOutput{CreatedAt: now, UpdatedAt: now, Version: 1}, nil
}

// writableSetting loads a setting for a write: write permission, matching
// version and read-write status. Callers hold mu.
func (s *Service) writableSetting(ctx context.Context, caller store.Principal, key store.SettingPathKey) (*store.Namespace, *store.Setting, error) {
	ns, err := s.namespace(ctx, key.Namespace)
	if err != nil {
		return nil, nil, err
	}
	if !ns.CanWriteSetting(caller, key) {
		return nil, nil, denied("caller cannot write setting %s", key)
	}
	setting, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if setting.Version != key.Version {
		return nil, nil, fmt.Errorf("%w: expected %d, current %d", ErrVersionMismatch, key.Version, setting.Version)
	}
	return ns, setting, nil
}

// SettingUpdatePayload replaces the payload of a read-write setting whose
// version equals path.Version. The previous payload is archived under
// that version and the version is incremented.
func (s *Service) SettingUpdatePayload(ctx context.Context, caller store.Principal, path SettingPath, in *UpdateSettingPayloadInput) (out *UpdateSettingOutput, err error) {
	ctx, done := s.begin(ctx, MethodSettingUpdatePayload)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, MethodSettingUpdatePayload); err != nil {
		return nil, err
	}
	ns, setting, err := s.writableSetting(ctx, caller, key)
	if err != nil {
		return nil, err
	}
	if setting.Status != store.StatusReadWrite {
		return nil, fmt.Errorf("%w: setting %s is not writable (status %d)", ErrDisabled, key, setting.Status)
	}
	dek := setting.DEK
	if len(in.DEK) > 0 {
		dek = in.DEK
	}
	size, err := validateContent(ns, in.Payload, in.DEK, len(dek) > 0, in.ContentType)
	if err != nil {
		return nil, err
	}

	now := s.nowMS()
	archived := &store.SettingArchived{
		Version:    setting.Version,
		ArchivedAt: now,
		Deprecated: in.DeprecateCurrent,
		Payload:    setting.Payload,
		DEK:        setting.DEK,
	}
	if in.Status != nil {
		setting.Status = *in.Status
	}
	setting.Version++
	setting.Payload = in.Payload
	setting.DEK = dek
	setting.UpdatedAt = now
	ns.PayloadBytesTotal = saturatingAdd(ns.PayloadBytesTotal, uint64(size))

	if err := s.repo.ArchiveSetting(ctx, key, archived, setting, ns); err != nil {
		return nil, err
	}

	s.addPayloadBytes(ns.Name, size)
	s.audit(ctx, caller, store.AuditUpdateSettingPayload, "setting", key.String(), map[string]any{
		"version":    setting.Version,
		"deprecated": in.DeprecateCurrent,
	})
	return &UpdateSettingOutput{CreatedAt: setting.CreatedAt, UpdatedAt: now, Version: setting.Version}, nil
}

// SettingUpdateInfo patches desc, tags and status. Settings that are not
// read-write keep their status: changing it fails with ErrDisabled.
func (s *Service) SettingUpdateInfo(ctx context.Context, caller store.Principal, path SettingPath, in *UpdateSettingInfoInput) (out *UpdateSettingOutput, err error) {
	ctx, done := s.begin(ctx, MethodSettingUpdateInfo)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, MethodSettingUpdateInfo); err != nil {
		return nil, err
	}
	_, setting, err := s.writableSetting(ctx, caller, key)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && *in.Status != setting.Status {
		if setting.Status != store.StatusReadWrite {
			return nil, fmt.Errorf("%w: setting %s status %d is final", ErrDisabled, key, setting.Status)
		}
		setting.Status = *in.Status
	}
	if in.Desc != nil {
		setting.Desc = *in.Desc
	}
	if in.Tags != nil {
		setting.Tags = in.Tags
	}
	setting.UpdatedAt = s.nowMS()
	if err := s.repo.UpdateSetting(ctx, key, setting); err != nil {
		return nil, err
	}

	s.audit(ctx, caller, store.AuditUpdateSettingInfo, "setting", key.String(), map[string]any{"status": setting.Status})
	return &UpdateSettingOutput{CreatedAt: setting.CreatedAt, UpdatedAt: setting.UpdatedAt, Version: setting.Version}, nil
}

// SettingAddReaders grants supplemental read access.
func (s *Service) SettingAddReaders(ctx context.Context, caller store.Principal, path SettingPath, readers []store.Principal) error {
	return s.changeReaders(ctx, caller, MethodSettingAddReaders, path, readers, true)
}

// SettingRemoveReaders revokes supplemental read access.
func (s *Service) SettingRemoveReaders(ctx context.Context, caller store.Principal, path SettingPath, readers []store.Principal) error {
	return s.changeReaders(ctx, caller, MethodSettingRemoveReaders, path, readers, false)
}

func (s *Service) changeReaders(ctx context.Context, caller store.Principal, method string, path SettingPath, readers []store.Principal, add bool) (err error) {
	ctx, done := s.begin(ctx, method)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return err
	}
	if err := validatePrincipals(readers); err != nil {
		return err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginUpdate(ctx, caller, method); err != nil {
		return err
	}
	_, setting, err := s.writableSetting(ctx, caller, key)
	if err != nil {
		return err
	}
	if setting.Status != store.StatusReadWrite {
		return fmt.Errorf("%w: setting %s is not writable (status %d)", ErrDisabled, key, setting.Status)
	}
	if add {
		setting.Readers = setting.Readers.Add(readers...)
	} else {
		setting.Readers = setting.Readers.Remove(readers...)
	}
	setting.UpdatedAt = s.nowMS()
	if err := s.repo.UpdateSetting(ctx, key, setting); err != nil {
		return err
	}
	s.audit(ctx, caller, store.AuditChangeReaders, "setting", key.String(), map[string]any{"add": add, "count": len(readers)})
	return nil
}
