// ABOUTME: SQLite implementation of the Repository interface using modernc.org/sqlite
// ABOUTME: Provides state and namespace persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Repository interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serializes writers the same way the service does.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		name TEXT NOT NULL,
		key_name TEXT NOT NULL,
		managers TEXT NOT NULL DEFAULT '[]',
		auditors TEXT NOT NULL DEFAULT '[]',
		allowed_apis TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		max_payload_size INTEGER NOT NULL,
		payload_bytes_total INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		visibility INTEGER NOT NULL DEFAULT 0,
		managers TEXT NOT NULL DEFAULT '[]',
		auditors TEXT NOT NULL DEFAULT '[]',
		users TEXT NOT NULL DEFAULT '[]',
		fixed_id_names TEXT NOT NULL DEFAULT '{}',
		session_expires_in_ms INTEGER NOT NULL DEFAULT 0,
		gas_balance INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		ns TEXT NOT NULL REFERENCES namespaces(name) ON DELETE RESTRICT,
		scope INTEGER NOT NULL,
		subject TEXT NOT NULL,
		key BLOB NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		readers TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '{}',
		payload BLOB,
		dek BLOB,
		PRIMARY KEY (ns, scope, subject, key)
	);

	CREATE TABLE IF NOT EXISTS settings_archived (
		ns TEXT NOT NULL REFERENCES namespaces(name) ON DELETE RESTRICT,
		scope INTEGER NOT NULL,
		subject TEXT NOT NULL,
		key BLOB NOT NULL,
		version INTEGER NOT NULL,
		archived_at INTEGER NOT NULL,
		deprecated INTEGER NOT NULL DEFAULT 0,
		payload BLOB,
		dek BLOB,
		PRIMARY KEY (ns, scope, subject, key, version)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		at_ns INTEGER NOT NULL,
		detail BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at_ns);
	CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor, at_ns);
	CREATE INDEX IF NOT EXISTS idx_audit_log_target ON audit_log(target_type, target_id, at_ns);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "namespaces",
			column: "session_expires_in_ms",
			apply:  `ALTER TABLE namespaces ADD COLUMN session_expires_in_ms INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "namespaces",
			column: "gas_balance",
			apply:  `ALTER TABLE namespaces ADD COLUMN gas_balance INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY violation
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// SQLite integers are signed; counters and timestamps round-trip through
// int64 bit patterns so saturated uint64 values survive.
func u64(v int64) uint64 { return uint64(v) }
func i64(v uint64) int64 { return int64(v) }

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodePrincipals(ps Principals) (string, error) {
	if ps == nil {
		ps = Principals{}
	}
	return encodeJSON(ps)
}

func decodePrincipals(data string) (Principals, error) {
	var ps Principals
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return NewPrincipals(ps...), nil
}

// GetState returns the gateway state record, or ErrNotFound before init.
func (s *SQLiteStore) GetState(ctx context.Context) (*State, error) {
	var st State
	var managers, auditors, apis string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, key_name, managers, auditors, allowed_apis FROM state WHERE id = 1
	`).Scan(&st.Name, &st.KeyName, &managers, &auditors, &apis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying state: %w", err)
	}

	if st.Managers, err = decodePrincipals(managers); err != nil {
		return nil, fmt.Errorf("decoding managers: %w", err)
	}
	if st.Auditors, err = decodePrincipals(auditors); err != nil {
		return nil, fmt.Errorf("decoding auditors: %w", err)
	}
	if err := json.Unmarshal([]byte(apis), &st.AllowedAPIs); err != nil {
		return nil, fmt.Errorf("decoding allowed apis: %w", err)
	}
	if len(st.AllowedAPIs) == 0 {
		st.AllowedAPIs = nil
	}
	return &st, nil
}

// SaveState inserts or replaces the gateway state record.
func (s *SQLiteStore) SaveState(ctx context.Context, st *State) error {
	managers, err := encodePrincipals(st.Managers)
	if err != nil {
		return fmt.Errorf("encoding managers: %w", err)
	}
	auditors, err := encodePrincipals(st.Auditors)
	if err != nil {
		return fmt.Errorf("encoding auditors: %w", err)
	}
	apis := st.AllowedAPIs
	if apis == nil {
		apis = []string{}
	}
	apisJSON, err := encodeJSON(apis)
	if err != nil {
		return fmt.Errorf("encoding allowed apis: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (id, name, key_name, managers, auditors, allowed_apis)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			key_name = excluded.key_name,
			managers = excluded.managers,
			auditors = excluded.auditors,
			allowed_apis = excluded.allowed_apis
	`, st.Name, st.KeyName, managers, auditors, apisJSON)
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	s.logger.Debug("saved state", "name", st.Name)
	return nil
}

const namespaceColumns = `name, description, created_at, updated_at, max_payload_size, payload_bytes_total,
	status, visibility, managers, auditors, users, fixed_id_names, session_expires_in_ms, gas_balance`

// namespaceArgs flattens ns into column order for INSERT/UPDATE.
func namespaceArgs(ns *Namespace) ([]any, error) {
	managers, err := encodePrincipals(ns.Managers)
	if err != nil {
		return nil, fmt.Errorf("encoding managers: %w", err)
	}
	auditors, err := encodePrincipals(ns.Auditors)
	if err != nil {
		return nil, fmt.Errorf("encoding auditors: %w", err)
	}
	users, err := encodePrincipals(ns.Users)
	if err != nil {
		return nil, fmt.Errorf("encoding users: %w", err)
	}
	names := ns.FixedIDNames
	if names == nil {
		names = map[string]Principals{}
	}
	fixed, err := encodeJSON(names)
	if err != nil {
		return nil, fmt.Errorf("encoding fixed id names: %w", err)
	}
	return []any{
		ns.Name, ns.Desc, i64(ns.CreatedAt), i64(ns.UpdatedAt), i64(ns.MaxPayloadSize), i64(ns.PayloadBytesTotal),
		ns.Status, ns.Visibility, managers, auditors, users, fixed, i64(ns.SessionExpiresInMS), i64(ns.GasBalance),
	}, nil
}

func scanNamespace(scanner interface{ Scan(dest ...any) error }) (*Namespace, error) {
	var ns Namespace
	var created, updated, maxSize, total, session, gas int64
	var managers, auditors, users, fixed string
	if err := scanner.Scan(
		&ns.Name, &ns.Desc, &created, &updated, &maxSize, &total,
		&ns.Status, &ns.Visibility, &managers, &auditors, &users, &fixed, &session, &gas,
	); err != nil {
		return nil, err
	}
	ns.CreatedAt, ns.UpdatedAt = u64(created), u64(updated)
	ns.MaxPayloadSize, ns.PayloadBytesTotal = u64(maxSize), u64(total)
	ns.SessionExpiresInMS, ns.GasBalance = u64(session), u64(gas)

	var err error
	if ns.Managers, err = decodePrincipals(managers); err != nil {
		return nil, fmt.Errorf("decoding managers: %w", err)
	}
	if ns.Auditors, err = decodePrincipals(auditors); err != nil {
		return nil, fmt.Errorf("decoding auditors: %w", err)
	}
	if ns.Users, err = decodePrincipals(users); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &ns.FixedIDNames); err != nil {
		return nil, fmt.Errorf("decoding fixed id names: %w", err)
	}
	if len(ns.FixedIDNames) == 0 {
		ns.FixedIDNames = nil
	}
	return &ns, nil
}

// GetNamespace retrieves a namespace by name.
// Returns ErrNotFound if the namespace doesn't exist.
func (s *SQLiteStore) GetNamespace(ctx context.Context, name string) (*Namespace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+namespaceColumns+` FROM namespaces WHERE name = ?`, name)
	ns, err := scanNamespace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying namespace: %w", err)
	}
	return ns, nil
}

// CreateNamespace inserts a namespace.
// Returns ErrAlreadyExists if the name is taken.
func (s *SQLiteStore) CreateNamespace(ctx context.Context, ns *Namespace) error {
	args, err := namespaceArgs(ns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO namespaces (`+namespaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting namespace: %w", err)
	}

	s.logger.Debug("created namespace", "name", ns.Name)
	return nil
}

// UpdateNamespace replaces a namespace record.
// Returns ErrNotFound if the namespace doesn't exist.
func (s *SQLiteStore) UpdateNamespace(ctx context.Context, ns *Namespace) error {
	return updateNamespace(ctx, s.db, ns)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateNamespace(ctx context.Context, db execer, ns *Namespace) error {
	args, err := namespaceArgs(ns)
	if err != nil {
		return err
	}
	// name goes last for the WHERE clause
	args = append(args[1:], args[0])
	result, err := db.ExecContext(ctx, `
		UPDATE namespaces SET
			description = ?, created_at = ?, updated_at = ?, max_payload_size = ?, payload_bytes_total = ?,
			status = ?, visibility = ?, managers = ?, auditors = ?, users = ?, fixed_id_names = ?,
			session_expires_in_ms = ?, gas_balance = ?
		WHERE name = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("updating namespace: %w", err)
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

// DeleteNamespace removes a namespace that owns no settings.
// Returns ErrNotEmpty while settings or archived payloads still reference it.
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotEmpty
		}
		return fmt.Errorf("deleting namespace: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted namespace", "name", name)
	return nil
}

// ListNamespaces returns namespaces before the given name, newest key first.
func (s *SQLiteStore) ListNamespaces(ctx context.Context, before string, limit int) ([]*Namespace, error) {
	var cursor *string
	if before != "" {
		cursor = &before
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+namespaceColumns+` FROM namespaces
		WHERE (? IS NULL OR name < ?)
		ORDER BY name DESC
		LIMIT ?
	`, cursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("querying namespaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	namespaces := []*Namespace{}
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating namespaces: %w", err)
	}
	return namespaces, nil
}

// CountNamespaces returns the number of namespaces.
func (s *SQLiteStore) CountNamespaces(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM namespaces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting namespaces: %w", err)
	}
	return n, nil
}
