// ABOUTME: In-memory Repository with CBOR snapshot save/load
// ABOUTME: Used for single-process deployments with checkpoints and for tests

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// settingID is the map key for a live setting (version ignored).
type settingID struct {
	ns      string
	scope   uint8
	subject Principal
	key     string
}

func idOf(k SettingPathKey) settingID {
	return settingID{ns: k.Namespace, scope: k.Scope, subject: k.Subject, key: string(k.Key)}
}

type archivedID struct {
	settingID
	version uint32
}

// MemoryStore is an in-memory Repository. Records are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	state      *State
	namespaces map[string]*Namespace
	settings   map[settingID]*Setting
	archived   map[archivedID]*SettingArchived
	audit      []AuditEntry
	logger     *slog.Logger
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]*Namespace),
		settings:   make(map[settingID]*Setting),
		archived:   make(map[archivedID]*SettingArchived),
		logger:     slog.Default().With("component", "store"),
	}
}

// GetState returns the state, or ErrNotFound before init.
func (m *MemoryStore) GetState(ctx context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, ErrNotFound
	}
	return m.state.Clone(), nil
}

// SaveState replaces the state.
func (m *MemoryStore) SaveState(ctx context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st.Clone()
	return nil
}

// GetNamespace retrieves a namespace by name.
func (m *MemoryStore) GetNamespace(ctx context.Context, name string) (*Namespace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[name]
	if !ok {
		return nil, ErrNotFound
	}
	return ns.Clone(), nil
}

// CreateNamespace stores a new namespace.
func (m *MemoryStore) CreateNamespace(ctx context.Context, ns *Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[ns.Name]; ok {
		return ErrAlreadyExists
	}
	m.namespaces[ns.Name] = ns.Clone()
	return nil
}

// UpdateNamespace replaces an existing namespace.
func (m *MemoryStore) UpdateNamespace(ctx context.Context, ns *Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateNamespaceLocked(ns)
}

func (m *MemoryStore) updateNamespaceLocked(ns *Namespace) error {
	if _, ok := m.namespaces[ns.Name]; !ok {
		return ErrNotFound
	}
	m.namespaces[ns.Name] = ns.Clone()
	return nil
}

// DeleteNamespace removes a namespace with no settings or archived payloads.
func (m *MemoryStore) DeleteNamespace(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[name]; !ok {
		return ErrNotFound
	}
	for id := range m.settings {
		if id.ns == name {
			return ErrNotEmpty
		}
	}
	for id := range m.archived {
		if id.ns == name {
			return ErrNotEmpty
		}
	}
	delete(m.namespaces, name)
	return nil
}

// ListNamespaces returns namespaces before the given name in descending order.
func (m *MemoryStore) ListNamespaces(ctx context.Context, before string, limit int) ([]*Namespace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		if before == "" || name < before {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int { return strings.Compare(b, a) })
	if limit >= 0 && len(names) > limit {
		names = names[:limit]
	}

	out := make([]*Namespace, 0, len(names))
	for _, name := range names {
		out = append(out, m.namespaces[name].Clone())
	}
	return out, nil
}

// CountNamespaces returns the number of namespaces.
func (m *MemoryStore) CountNamespaces(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces), nil
}

// GetSetting retrieves the live setting at key.
func (m *MemoryStore) GetSetting(ctx context.Context, key SettingPathKey) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[idOf(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// CreateSetting stores a new live setting and its namespace totals.
func (m *MemoryStore) CreateSetting(ctx context.Context, key SettingPathKey, setting *Setting, ns *Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[key.Namespace]; !ok {
		return ErrNotFound
	}
	id := idOf(key)
	if _, ok := m.settings[id]; ok {
		return ErrAlreadyExists
	}
	if err := m.updateNamespaceLocked(ns); err != nil {
		return err
	}
	m.settings[id] = setting.Clone()
	return nil
}

// UpdateSetting replaces an existing live setting.
func (m *MemoryStore) UpdateSetting(ctx context.Context, key SettingPathKey, setting *Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := idOf(key)
	if _, ok := m.settings[id]; !ok {
		return ErrNotFound
	}
	m.settings[id] = setting.Clone()
	return nil
}

// ArchiveSetting stores archived and replaces the live setting and namespace.
func (m *MemoryStore) ArchiveSetting(ctx context.Context, key SettingPathKey, archived *SettingArchived, setting *Setting, ns *Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := idOf(key)
	if _, ok := m.settings[id]; !ok {
		return ErrNotFound
	}
	aid := archivedID{settingID: id, version: key.Version}
	if _, ok := m.archived[aid]; ok {
		return ErrAlreadyExists
	}
	if err := m.updateNamespaceLocked(ns); err != nil {
		return err
	}
	m.archived[aid] = archived.Clone()
	m.settings[id] = setting.Clone()
	return nil
}

// GetArchivedSetting retrieves the archived payload at key's version.
func (m *MemoryStore) GetArchivedSetting(ctx context.Context, key SettingPathKey) (*SettingArchived, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.archived[archivedID{settingID: idOf(key), version: key.Version}]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// CountSettings returns the number of live settings in ns.
func (m *MemoryStore) CountSettings(ctx context.Context, ns string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for id := range m.settings {
		if id.ns == ns {
			n++
		}
	}
	return n, nil
}

// ListSettingKeys returns live setting keys in SettingPathKey order.
func (m *MemoryStore) ListSettingKeys(ctx context.Context, ns string, scope uint8, subject *Principal) ([]SettingPathKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := []SettingPathKey{}
	for id, s := range m.settings {
		if id.ns != ns || id.scope != scope || (subject != nil && id.subject != *subject) {
			continue
		}
		keys = append(keys, SettingPathKey{
			Namespace: id.ns,
			Scope:     id.scope,
			Subject:   id.subject,
			Key:       []byte(id.key),
			Version:   s.Version,
		})
	}
	slices.SortFunc(keys, SettingPathKey.Compare)
	return keys, nil
}

// AppendAuditLog appends an entry, filling in ID and Timestamp.
func (m *MemoryStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching entries newest first.
func (m *MemoryStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		if f.matches(&m.audit[i]) {
			entries = append(entries, m.audit[i])
		}
	}
	return entries, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

type snapshotSetting struct {
	Key     SettingPathKey
	Setting *Setting
}

type snapshotArchived struct {
	Key      SettingPathKey
	Archived *SettingArchived
}

type snapshot struct {
	State      *State
	Namespaces []*Namespace
	Settings   []snapshotSetting
	Archived   []snapshotArchived
	Audit      []AuditEntry
}

// Save writes a CBOR snapshot of every table to w.
func (m *MemoryStore) Save(w io.Writer) error {
	m.mu.RLock()
	snap := snapshot{State: m.state, Audit: m.audit}
	for _, ns := range m.namespaces {
		snap.Namespaces = append(snap.Namespaces, ns)
	}
	for id, s := range m.settings {
		snap.Settings = append(snap.Settings, snapshotSetting{Key: id.pathKey(0), Setting: s})
	}
	for id, a := range m.archived {
		snap.Archived = append(snap.Archived, snapshotArchived{Key: id.pathKey(id.version), Archived: a})
	}
	data, err := cbor.Marshal(snap)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Load replaces every table with the snapshot read from r.
func (m *MemoryStore) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = snap.State
	m.namespaces = make(map[string]*Namespace, len(snap.Namespaces))
	for _, ns := range snap.Namespaces {
		m.namespaces[ns.Name] = ns
	}
	m.settings = make(map[settingID]*Setting, len(snap.Settings))
	for _, s := range snap.Settings {
		m.settings[idOf(s.Key)] = s.Setting
	}
	m.archived = make(map[archivedID]*SettingArchived, len(snap.Archived))
	for _, a := range snap.Archived {
		m.archived[archivedID{settingID: idOf(a.Key), version: a.Key.Version}] = a.Archived
	}
	m.audit = snap.Audit
	return nil
}

// SaveFile writes a snapshot to path atomically via a temp file and rename.
func (m *MemoryStore) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	m.logger.Debug("saved snapshot", "path", path, "bytes", buf.Len())
	return nil
}

// LoadFile loads a snapshot from path. A missing file leaves the store empty.
func (m *MemoryStore) LoadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	if err := m.Load(f); err != nil {
		return err
	}
	n, _ := m.CountNamespaces(context.Background())
	m.logger.Info("loaded snapshot", "path", path, "namespaces", n)
	return nil
}

func (id settingID) pathKey(version uint32) SettingPathKey {
	return SettingPathKey{
		Namespace: id.ns,
		Scope:     id.scope,
		Subject:   id.subject,
		Key:       []byte(id.key),
		Version:   version,
	}
}
