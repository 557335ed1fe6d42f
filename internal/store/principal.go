// ABOUTME: Principal identities and sorted principal sets
// ABOUTME: Sets stay sorted and duplicate-free so storage and listings are stable

package store

import (
	"slices"
)

// Principal is an opaque caller identity. Its raw bytes are the AAD bound
// into every ciphertext produced for that subject.
type Principal string

// Anonymous is the identity of unauthenticated callers.
const Anonymous Principal = "anonymous"

// Bytes returns the raw identity bytes.
func (p Principal) Bytes() []byte {
	return []byte(p)
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return p == Anonymous || p == ""
}

// Principals is a sorted set of principals.
type Principals []Principal

// NewPrincipals builds a set from ps.
func NewPrincipals(ps ...Principal) Principals {
	return Principals(nil).Add(ps...)
}

// Has reports whether p is in the set.
func (s Principals) Has(p Principal) bool {
	_, ok := slices.BinarySearch(s, p)
	return ok
}

// Add returns the set with ps inserted.
func (s Principals) Add(ps ...Principal) Principals {
	out := s.Clone()
	for _, p := range ps {
		i, ok := slices.BinarySearch(out, p)
		if !ok {
			out = slices.Insert(out, i, p)
		}
	}
	return out
}

// Remove returns the set with ps removed.
func (s Principals) Remove(ps ...Principal) Principals {
	out := s.Clone()
	for _, p := range ps {
		if i, ok := slices.BinarySearch(out, p); ok {
			out = slices.Delete(out, i, i+1)
		}
	}
	return out
}

// Clone returns a copy of the set that never aliases s.
func (s Principals) Clone() Principals {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
