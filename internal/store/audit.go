// ABOUTME: Audit log entity and store methods for tracking tenant mutations
// ABOUTME: Records who changed which namespace, setting or global state

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction names a recorded mutation.
type AuditAction string

const (
	AuditCreateNamespace      AuditAction = "create_namespace"
	AuditUpdateNamespace      AuditAction = "update_namespace"
	AuditDeleteNamespace      AuditAction = "delete_namespace"
	AuditChangeMembers        AuditAction = "change_members"
	AuditChangeDelegators     AuditAction = "change_delegators"
	AuditTopUp                AuditAction = "top_up"
	AuditCreateSetting        AuditAction = "create_setting"
	AuditUpdateSettingInfo    AuditAction = "update_setting_info"
	AuditUpdateSettingPayload AuditAction = "update_setting_payload"
	AuditChangeReaders        AuditAction = "change_readers"
	AuditSignDelegation       AuditAction = "sign_delegation"
	AuditChangeState          AuditAction = "change_state"
)

// ValidAuditActions is every action the service records.
var ValidAuditActions = []AuditAction{
	AuditCreateNamespace,
	AuditUpdateNamespace,
	AuditDeleteNamespace,
	AuditChangeMembers,
	AuditChangeDelegators,
	AuditTopUp,
	AuditCreateSetting,
	AuditUpdateSettingInfo,
	AuditUpdateSettingPayload,
	AuditChangeReaders,
	AuditSignDelegation,
	AuditChangeState,
}

// AuditEntry is one committed mutation.
type AuditEntry struct {
	ID         string         `json:"id"`          // UUID v4
	Actor      Principal      `json:"actor"`       // who performed the action
	Action     AuditAction    `json:"action"`      // what action was performed
	TargetType string         `json:"target_type"` // "namespace", "setting", "state"
	TargetID   string         `json:"target_id"`   // namespace name or setting path
	Timestamp  time.Time      `json:"timestamp"`   // when it happened
	Detail     map[string]any `json:"detail,omitempty"`
}

// AuditFilter narrows ListAuditLog. Nil fields match everything.
type AuditFilter struct {
	Since      *time.Time   `json:"since,omitempty"`       // entries after this time
	Until      *time.Time   `json:"until,omitempty"`       // entries before this time
	Actor      *string      `json:"actor,omitempty"`       // filter by actor
	Action     *AuditAction `json:"action,omitempty"`      // filter by action type
	TargetType *string      `json:"target_type,omitempty"` // filter by target type
	TargetID   *string      `json:"target_id,omitempty"`   // filter by target ID
	Limit      int          `json:"limit,omitempty"`       // max results (default 100, max 1000)
}

// prepareAuditEntry fills in ID and Timestamp if not set.
func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// AppendAuditLog records e, assigning an ID and timestamp when unset.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	var detail []byte
	if e.Detail != nil {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("encoding audit detail: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, action, target_type, target_id, at_ns, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Actor), string(e.Action), e.TargetType, e.TargetID, e.Timestamp.UnixNano(), detail); err != nil {
		return fmt.Errorf("inserting audit entry %s: %w", e.ID, err)
	}

	s.logger.Debug("audit", "action", e.Action, "actor", e.Actor, "target", e.TargetType+":"+e.TargetID)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// matches reports whether e passes every filter criterion.
func (f AuditFilter) matches(e *AuditEntry) bool {
	switch {
	case f.Since != nil && e.Timestamp.Before(*f.Since):
		return false
	case f.Until != nil && e.Timestamp.After(*f.Until):
		return false
	case f.Actor != nil && string(e.Actor) != *f.Actor:
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	case f.TargetType != nil && e.TargetType != *f.TargetType:
		return false
	case f.TargetID != nil && e.TargetID != *f.TargetID:
		return false
	}
	return true
}

// where renders the filter as a SQL condition list and its arguments.
func (f AuditFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.Since != nil {
		add("at_ns >= ?", f.Since.UnixNano())
	}
	if f.Until != nil {
		add("at_ns <= ?", f.Until.UnixNano())
	}
	if f.Actor != nil {
		add("actor = ?", *f.Actor)
	}
	if f.Action != nil {
		add("action = ?", string(*f.Action))
	}
	if f.TargetType != nil {
		add("target_type = ?", *f.TargetType)
	}
	if f.TargetID != nil {
		add("target_id = ?", *f.TargetID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ListAuditLog returns entries matching f, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	where, args := f.where()
	query := "SELECT id, actor, action, target_type, target_id, at_ns, detail FROM audit_log " +
		where + " ORDER BY at_ns DESC, rowid DESC LIMIT ?"
	args = append(args, normalizeAuditLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		var (
			e             AuditEntry
			actor, action string
			atNS          int64
			detail        []byte
		)
		if err := rows.Scan(&e.ID, &actor, &action, &e.TargetType, &e.TargetID, &atNS, &detail); err != nil {
			return nil, fmt.Errorf("reading audit row: %w", err)
		}
		e.Actor = Principal(actor)
		e.Action = AuditAction(action)
		e.Timestamp = time.Unix(0, atNS).UTC()
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding audit detail %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
