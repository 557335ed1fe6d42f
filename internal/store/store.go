// ABOUTME: Repository interface and sentinel errors for gateway persistence
// ABOUTME: Namespaces, settings, archived payloads, global state and audit log

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating an entity whose key is taken
var ErrAlreadyExists = errors.New("already exists")

// ErrNotEmpty is returned when deleting a namespace that still owns settings
var ErrNotEmpty = errors.New("namespace is not empty")

// Repository is the persistence boundary for the service. Implementations
// must make each method atomic; multi-record writes (setting plus namespace
// totals, archive plus setting) commit together or not at all.
type Repository interface {
	// State
	GetState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, st *State) error

	// Namespaces
	GetNamespace(ctx context.Context, name string) (*Namespace, error)
	CreateNamespace(ctx context.Context, ns *Namespace) error
	UpdateNamespace(ctx context.Context, ns *Namespace) error
	DeleteNamespace(ctx context.Context, name string) error
	// ListNamespaces returns up to limit namespaces whose name sorts strictly
	// before the given name (all if empty), in descending name order.
	ListNamespaces(ctx context.Context, before string, limit int) ([]*Namespace, error)
	CountNamespaces(ctx context.Context) (int, error)

	// Settings. Live settings are addressed with the version field ignored.
	GetSetting(ctx context.Context, key SettingPathKey) (*Setting, error)
	CreateSetting(ctx context.Context, key SettingPathKey, setting *Setting, ns *Namespace) error
	UpdateSetting(ctx context.Context, key SettingPathKey, setting *Setting) error
	// ArchiveSetting stores archived under key (at the superseded version)
	// and replaces the live setting and namespace record in one commit.
	ArchiveSetting(ctx context.Context, key SettingPathKey, archived *SettingArchived, setting *Setting, ns *Namespace) error
	GetArchivedSetting(ctx context.Context, key SettingPathKey) (*SettingArchived, error)
	CountSettings(ctx context.Context, ns string) (int, error)
	// ListSettingKeys returns live setting keys in SettingPathKey order,
	// optionally restricted to one subject.
	ListSettingKeys(ctx context.Context, ns string, scope uint8, subject *Principal) ([]SettingPathKey, error)

	// Audit
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	Close() error
}

// State holds gateway-wide configuration persisted alongside tenant data.
type State struct {
	Name        string
	KeyName     string
	Managers    Principals
	Auditors    Principals
	AllowedAPIs []string
}

// APIAllowed reports whether method may be called. An empty allow-list
// permits every method.
func (s *State) APIAllowed(method string) bool {
	if len(s.AllowedAPIs) == 0 {
		return true
	}
	for _, m := range s.AllowedAPIs {
		if m == method {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Managers = s.Managers.Clone()
	c.Auditors = s.Auditors.Clone()
	c.AllowedAPIs = append([]string(nil), s.AllowedAPIs...)
	return &c
}
