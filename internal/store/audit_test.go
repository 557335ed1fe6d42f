// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering against every repository

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			entry := &AuditEntry{
				Actor:      "manager",
				Action:     AuditCreateNamespace,
				TargetType: "namespace",
				TargetID:   "payments",
				Detail:     map[string]any{"visibility": "private"},
			}
			require.NoError(t, repo.AppendAuditLog(context.Background(), entry))

			assert.NotEmpty(t, entry.ID)
			assert.False(t, entry.Timestamp.IsZero())
		})
	}
}

func appendAuditFixtures(t *testing.T, repo Repository, base time.Time) {
	t.Helper()
	fixtures := []struct {
		actor  Principal
		action AuditAction
		target string
	}{
		{"manager", AuditCreateNamespace, "ns"},
		{"manager", AuditChangeMembers, "ns"},
		{"alice", AuditCreateSetting, "ns/1/alice/6b@0"},
		{"alice", AuditUpdateSettingPayload, "ns/1/alice/6b@0"},
		{"root", AuditChangeState, "state"},
	}
	for i, f := range fixtures {
		targetType := "setting"
		switch f.action {
		case AuditCreateNamespace, AuditChangeMembers:
			targetType = "namespace"
		case AuditChangeState:
			targetType = "state"
		}
		require.NoError(t, repo.AppendAuditLog(context.Background(), &AuditEntry{
			Actor:      f.actor,
			Action:     f.action,
			TargetType: targetType,
			TargetID:   f.target,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestAuditStore_List_NoFilter(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			appendAuditFixtures(t, repo, base)

			entries, err := repo.ListAuditLog(context.Background(), AuditFilter{})
			require.NoError(t, err)
			require.Len(t, entries, 5)
			assert.Equal(t, AuditChangeState, entries[0].Action, "newest first")
			assert.Equal(t, AuditCreateNamespace, entries[4].Action)
		})
	}
}

func TestAuditStore_List_Filters(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	alice := "alice"
	namespaceType := "namespace"
	payloadAction := AuditUpdateSettingPayload
	since := base.Add(2 * time.Second)
	until := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter AuditFilter
		want   []AuditAction
	}{
		{"actor", AuditFilter{Actor: &alice}, []AuditAction{AuditUpdateSettingPayload, AuditCreateSetting}},
		{"target type", AuditFilter{TargetType: &namespaceType}, []AuditAction{AuditChangeMembers, AuditCreateNamespace}},
		{"action", AuditFilter{Action: &payloadAction}, []AuditAction{AuditUpdateSettingPayload}},
		{"time range", AuditFilter{Since: &since, Until: &until}, []AuditAction{AuditUpdateSettingPayload, AuditCreateSetting}},
		{"limit", AuditFilter{Limit: 2}, []AuditAction{AuditChangeState, AuditUpdateSettingPayload}},
	}

	for name, repo := range repositories(t) {
		appendAuditFixtures(t, repo, base)
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/%s", name, tt.name), func(t *testing.T) {
				entries, err := repo.ListAuditLog(context.Background(), tt.filter)
				require.NoError(t, err)
				got := make([]AuditAction, len(entries))
				for i, e := range entries {
					got[i] = e.Action
				}
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
