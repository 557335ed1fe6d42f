// ABOUTME: Setting records, archived payloads and the SettingPathKey ordering
// ABOUTME: Keys order lexicographically by namespace, scope, subject, key, version

package store

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"fmt"
	"maps"
	"strings"
)

// SettingPathKey addresses a setting. Live settings are stored at version
// 0; archived payloads at the version they were superseded at.
type SettingPathKey struct {
	Namespace string
	Scope     uint8
	Subject   Principal
	Key       []byte
	Version   uint32
}

// Compare orders keys by (namespace, scope, subject, key, version).
func (k SettingPathKey) Compare(o SettingPathKey) int {
	if c := strings.Compare(k.Namespace, o.Namespace); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Scope, o.Scope); c != 0 {
		return c
	}
	if c := strings.Compare(string(k.Subject), string(o.Subject)); c != 0 {
		return c
	}
	if c := bytes.Compare(k.Key, o.Key); c != 0 {
		return c
	}
	return cmp.Compare(k.Version, o.Version)
}

// WithVersion returns a copy of k at version v.
func (k SettingPathKey) WithVersion(v uint32) SettingPathKey {
	k.Version = v
	return k
}

// String renders the key for logs and audit targets.
func (k SettingPathKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%s@%d", k.Namespace, k.Scope, k.Subject, hex.EncodeToString(k.Key), k.Version)
}

// Setting is the live record of a setting. Payload is either plaintext
// CBOR or, when DEK is set, a COSE_Encrypt0 item sealed by the client.
type Setting struct {
	Desc      string
	CreatedAt uint64
	UpdatedAt uint64
	Status    int8
	Version   uint32
	Readers   Principals
	Tags      map[string]string
	Payload   []byte
	DEK       []byte
}

// Clone returns a deep copy of the setting.
func (s *Setting) Clone() *Setting {
	c := *s
	c.Readers = s.Readers.Clone()
	if s.Tags != nil {
		c.Tags = maps.Clone(s.Tags)
	}
	c.Payload = bytes.Clone(s.Payload)
	c.DEK = bytes.Clone(s.DEK)
	return &c
}

// SettingArchived is a payload superseded by an update.
type SettingArchived struct {
	Version    uint32
	ArchivedAt uint64
	Deprecated bool
	Payload    []byte
	DEK        []byte
}

// Clone returns a deep copy of the archived payload.
func (a *SettingArchived) Clone() *SettingArchived {
	c := *a
	c.Payload = bytes.Clone(a.Payload)
	c.DEK = bytes.Clone(a.DEK)
	return &c
}
