// ABOUTME: Shared fixtures for store tests
// ABOUTME: Builds temp SQLite stores and sample namespaces/settings

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// repositories returns one fresh instance of every Repository implementation.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	return map[string]Repository{
		"sqlite": setupTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func testNamespace(name string) *Namespace {
	return &Namespace{
		Name:               name,
		Desc:               "test namespace",
		CreatedAt:          1000,
		UpdatedAt:          1000,
		MaxPayloadSize:     1024,
		Managers:           NewPrincipals("manager"),
		Auditors:           NewPrincipals("auditor"),
		Users:              NewPrincipals("alice", "bob"),
		SessionExpiresInMS: 86_400_000,
	}
}

func testSettingKey(ns string, scope uint8, subject Principal, key string) SettingPathKey {
	return SettingPathKey{Namespace: ns, Scope: scope, Subject: subject, Key: []byte(key)}
}

func testSetting(payload string) *Setting {
	return &Setting{
		Desc:      "a setting",
		CreatedAt: 2000,
		UpdatedAt: 2000,
		Version:   1,
		Tags:      map[string]string{"env": "prod"},
		Payload:   []byte(payload),
	}
}
