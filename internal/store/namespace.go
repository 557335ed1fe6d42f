// ABOUTME: Namespace record and its access-control predicates
// ABOUTME: Predicates are pure functions of namespace state and the caller

package store

// Status values shared by namespaces and settings.
const (
	StatusArchived  int8 = -1
	StatusReadWrite int8 = 0
	StatusReadOnly  int8 = 1
)

// Visibility values for namespaces.
const (
	VisibilityPrivate uint8 = 0
	VisibilityPublic  uint8 = 1
)

// Setting scopes.
const (
	ScopeServer uint8 = 0
	ScopeUser   uint8 = 1
)

// Namespace is a tenant: it owns settings and the principals allowed to
// manage, audit and use them. Timestamps are Unix milliseconds.
type Namespace struct {
	Name               string
	Desc               string
	CreatedAt          uint64
	UpdatedAt          uint64
	MaxPayloadSize     uint64
	PayloadBytesTotal  uint64
	Status             int8
	Visibility         uint8
	Managers           Principals
	Auditors           Principals
	Users              Principals
	FixedIDNames       map[string]Principals
	SessionExpiresInMS uint64
	GasBalance         uint64
}

// Clone returns a deep copy of the namespace.
func (n *Namespace) Clone() *Namespace {
	c := *n
	c.Managers = n.Managers.Clone()
	c.Auditors = n.Auditors.Clone()
	c.Users = n.Users.Clone()
	if n.FixedIDNames != nil {
		c.FixedIDNames = make(map[string]Principals, len(n.FixedIDNames))
		for name, ps := range n.FixedIDNames {
			c.FixedIDNames[name] = ps.Clone()
		}
	}
	return &c
}

// CanRead reports whether caller may read namespace metadata.
func (n *Namespace) CanRead(caller Principal) bool {
	if n.Visibility == VisibilityPublic {
		return true
	}
	if n.Status < StatusReadWrite {
		return n.Managers.Has(caller) || n.Auditors.Has(caller)
	}
	return n.Managers.Has(caller) || n.Auditors.Has(caller) || n.Users.Has(caller)
}

// CanWrite reports whether caller may change the namespace itself.
func (n *Namespace) CanWrite(caller Principal) bool {
	return n.Status < StatusReadOnly && n.Managers.Has(caller)
}

// ReadPermission describes how much of a namespace's setting listing a
// caller may see.
type ReadPermission int

const (
	ReadNone ReadPermission = iota
	// ReadOwn allows listing the caller's own user-owned settings.
	ReadOwn
	// ReadFull allows listing every subject.
	ReadFull
)

// ReadPermission returns the listing permission of caller.
func (n *Namespace) ReadPermission(caller Principal) ReadPermission {
	switch {
	case n.Visibility == VisibilityPublic:
		return ReadFull
	case n.Managers.Has(caller) || n.Auditors.Has(caller):
		return ReadFull
	case n.Status >= StatusReadWrite && n.Users.Has(caller):
		return ReadOwn
	default:
		return ReadNone
	}
}

// CanWriteSetting reports whether caller may create or modify the setting
// at key: server-owned settings belong to managers, user-owned settings to
// their subject (who must be a namespace user).
func (n *Namespace) CanWriteSetting(caller Principal, key SettingPathKey) bool {
	if n.Status != StatusReadWrite {
		return false
	}
	switch key.Scope {
	case ScopeServer:
		return n.Managers.Has(caller)
	case ScopeUser:
		return caller == key.Subject && n.Users.Has(caller)
	default:
		return false
	}
}

// SettingAccess is the outcome of the namespace-level read check.
type SettingAccess int

const (
	// AccessCheckReaders defers to the setting's supplemental readers.
	AccessCheckReaders SettingAccess = iota
	AccessGranted
	AccessDenied
)

// SettingReadAccess evaluates the namespace-level part of a setting read.
func (n *Namespace) SettingReadAccess(caller Principal, key SettingPathKey) SettingAccess {
	if n.Visibility == VisibilityPublic {
		return AccessGranted
	}
	if n.Status < StatusReadWrite {
		if n.Managers.Has(caller) || n.Auditors.Has(caller) {
			return AccessGranted
		}
		return AccessDenied
	}
	if n.Managers.Has(caller) || n.Auditors.Has(caller) || caller == key.Subject {
		return AccessGranted
	}
	return AccessCheckReaders
}

// HasKEKPermission reports whether caller may have the key-encryption key
// for key derived and delivered. In an archived namespace only managers
// qualify.
func (n *Namespace) HasKEKPermission(caller Principal, key SettingPathKey) bool {
	if n.Status < StatusReadWrite && !n.Managers.Has(caller) {
		return false
	}
	return caller == key.Subject ||
		n.Auditors.Has(caller) ||
		(key.Scope == ScopeServer && n.Managers.Has(caller))
}

// HasSigningPermission reports whether caller may use namespace signing
// keys. In an archived namespace only managers qualify.
func (n *Namespace) HasSigningPermission(caller Principal) bool {
	if n.Status < StatusReadWrite && !n.Managers.Has(caller) {
		return false
	}
	return n.Managers.Has(caller) || n.Users.Has(caller)
}

// IsDelegator reports whether caller is registered for the fixed identity name.
func (n *Namespace) IsDelegator(name string, caller Principal) bool {
	return n.FixedIDNames[name].Has(caller)
}
