// ABOUTME: SQLite persistence for live settings and archived payloads
// ABOUTME: Multi-record writes run in a transaction with the namespace update

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const settingColumns = `description, created_at, updated_at, status, version, readers, tags, payload, dek`

func settingArgs(setting *Setting) ([]any, error) {
	readers, err := encodePrincipals(setting.Readers)
	if err != nil {
		return nil, fmt.Errorf("encoding readers: %w", err)
	}
	tags := setting.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := encodeJSON(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	return []any{
		setting.Desc, i64(setting.CreatedAt), i64(setting.UpdatedAt), setting.Status, setting.Version,
		readers, tagsJSON, setting.Payload, setting.DEK,
	}, nil
}

func keyArgs(key SettingPathKey) []any {
	return []any{key.Namespace, key.Scope, string(key.Subject), key.Key}
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetSetting retrieves the live setting at key. The version is ignored.
// Returns ErrNotFound if the setting doesn't exist.
func (s *SQLiteStore) GetSetting(ctx context.Context, key SettingPathKey) (*Setting, error) {
	var setting Setting
	var created, updated int64
	var readers, tags string
	err := s.db.QueryRowContext(ctx, `
		SELECT `+settingColumns+` FROM settings
		WHERE ns = ? AND scope = ? AND subject = ? AND key = ?
	`, keyArgs(key)...).Scan(
		&setting.Desc, &created, &updated, &setting.Status, &setting.Version,
		&readers, &tags, &setting.Payload, &setting.DEK,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying setting: %w", err)
	}

	setting.CreatedAt, setting.UpdatedAt = u64(created), u64(updated)
	if setting.Readers, err = decodePrincipals(readers); err != nil {
		return nil, fmt.Errorf("decoding readers: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &setting.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if len(setting.Tags) == 0 {
		setting.Tags = nil
	}
	return &setting, nil
}

// CreateSetting inserts the live setting and saves ns (its payload totals)
// in one transaction. Returns ErrAlreadyExists if the key is taken.
func (s *SQLiteStore) CreateSetting(ctx context.Context, key SettingPathKey, setting *Setting, ns *Namespace) error {
	args, err := settingArgs(setting)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (ns, scope, subject, key, `+settingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, append(keyArgs(key), args...)...)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrAlreadyExists
			}
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("inserting setting: %w", err)
		}
		return updateNamespace(ctx, tx, ns)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("created setting", "key", key.String())
	return nil
}

// UpdateSetting replaces the live setting at key.
// Returns ErrNotFound if the setting doesn't exist.
func (s *SQLiteStore) UpdateSetting(ctx context.Context, key SettingPathKey, setting *Setting) error {
	return updateSetting(ctx, s.db, key, setting)
}

func updateSetting(ctx context.Context, db execer, key SettingPathKey, setting *Setting) error {
	args, err := settingArgs(setting)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx, `
		UPDATE settings SET
			description = ?, created_at = ?, updated_at = ?, status = ?, version = ?,
			readers = ?, tags = ?, payload = ?, dek = ?
		WHERE ns = ? AND scope = ? AND subject = ? AND key = ?
	`, append(args, keyArgs(key)...)...)
	if err != nil {
		return fmt.Errorf("updating setting: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveSetting stores the superseded payload under key and replaces the
// live setting and namespace totals in one transaction.
func (s *SQLiteStore) ArchiveSetting(ctx context.Context, key SettingPathKey, archived *SettingArchived, setting *Setting, ns *Namespace) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings_archived (ns, scope, subject, key, version, archived_at, deprecated, payload, dek)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, append(keyArgs(key), key.Version, i64(archived.ArchivedAt), archived.Deprecated, archived.Payload, archived.DEK)...)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("inserting archived setting: %w", err)
		}
		if err := updateSetting(ctx, tx, key, setting); err != nil {
			return err
		}
		return updateNamespace(ctx, tx, ns)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("archived setting", "key", key.String(), "new_version", setting.Version)
	return nil
}

// GetArchivedSetting retrieves the archived payload at key's version.
// Returns ErrNotFound if nothing was archived at that version.
func (s *SQLiteStore) GetArchivedSetting(ctx context.Context, key SettingPathKey) (*SettingArchived, error) {
	var a SettingArchived
	var archivedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version, archived_at, deprecated, payload, dek FROM settings_archived
		WHERE ns = ? AND scope = ? AND subject = ? AND key = ? AND version = ?
	`, append(keyArgs(key), key.Version)...).Scan(&a.Version, &archivedAt, &a.Deprecated, &a.Payload, &a.DEK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying archived setting: %w", err)
	}
	a.ArchivedAt = u64(archivedAt)
	return &a, nil
}

// CountSettings returns the number of live settings in ns, across scopes.
func (s *SQLiteStore) CountSettings(ctx context.Context, ns string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings WHERE ns = ?`, ns).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting settings: %w", err)
	}
	return n, nil
}

// ListSettingKeys returns the keys of live settings in ns and scope, ordered
// by subject then key, optionally restricted to one subject.
func (s *SQLiteStore) ListSettingKeys(ctx context.Context, ns string, scope uint8, subject *Principal) ([]SettingPathKey, error) {
	var subj *string
	if subject != nil {
		v := string(*subject)
		subj = &v
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, key, version FROM settings
		WHERE ns = ? AND scope = ? AND (? IS NULL OR subject = ?)
		ORDER BY subject, key
	`, ns, scope, subj, subj)
	if err != nil {
		return nil, fmt.Errorf("querying setting keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := []SettingPathKey{}
	for rows.Next() {
		k := SettingPathKey{Namespace: ns, Scope: scope}
		var subject string
		if err := rows.Scan(&subject, &k.Key, &k.Version); err != nil {
			return nil, fmt.Errorf("scanning setting key: %w", err)
		}
		k.Subject = Principal(subject)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting keys: %w", err)
	}
	return keys, nil
}
