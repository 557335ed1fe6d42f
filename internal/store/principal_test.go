// ABOUTME: Tests for principal sets and setting key ordering

package store

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipals_SetOperations(t *testing.T) {
	s := NewPrincipals("carol", "alice", "bob", "alice")
	assert.Equal(t, Principals{"alice", "bob", "carol"}, s)
	assert.True(t, s.Has("bob"))
	assert.False(t, s.Has("dave"))

	added := s.Add("dave", "aaron")
	assert.Equal(t, Principals{"aaron", "alice", "bob", "carol", "dave"}, added)
	assert.Len(t, s, 3, "Add does not mutate the receiver")

	removed := added.Remove("bob", "zed")
	assert.Equal(t, Principals{"aaron", "alice", "carol", "dave"}, removed)
	assert.True(t, added.Has("bob"))
}

func TestPrincipal_IsAnonymous(t *testing.T) {
	assert.True(t, Anonymous.IsAnonymous())
	assert.True(t, Principal("").IsAnonymous())
	assert.False(t, Principal("alice").IsAnonymous())
}

func TestSettingPathKey_Compare(t *testing.T) {
	keys := []SettingPathKey{
		{Namespace: "b", Scope: 0, Subject: "a", Key: []byte("a")},
		{Namespace: "a", Scope: 1, Subject: "a", Key: []byte("a")},
		{Namespace: "a", Scope: 0, Subject: "b", Key: []byte("a")},
		{Namespace: "a", Scope: 0, Subject: "a", Key: []byte("b")},
		{Namespace: "a", Scope: 0, Subject: "a", Key: []byte("a"), Version: 2},
		{Namespace: "a", Scope: 0, Subject: "a", Key: []byte("a"), Version: 1},
	}
	slices.SortFunc(keys, SettingPathKey.Compare)

	want := []string{
		"a/0/a/61@1",
		"a/0/a/61@2",
		"a/0/a/62@0",
		"a/0/b/61@0",
		"a/1/a/61@0",
		"b/0/a/61@0",
	}
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = k.String()
	}
	assert.Equal(t, want, got)
}

func TestState_APIAllowed(t *testing.T) {
	st := &State{}
	assert.True(t, st.APIAllowed("anything"))

	st.AllowedAPIs = []string{"setting_get"}
	assert.True(t, st.APIAllowed("setting_get"))
	assert.False(t, st.APIAllowed("setting_create"))
}
