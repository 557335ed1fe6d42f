// ABOUTME: Tests for namespace reads, updates, membership, listing and deletion

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cose-gateway/internal/store"
)

func TestNamespaceGetInfo_Access(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createNamespace(t, "app")

	for _, caller := range []store.Principal{manager, auditor, user} {
		_, err := env.svc.NamespaceGetInfo(ctx, caller, "app")
		assert.NoError(t, err, "caller %s", caller)
	}
	_, err := env.svc.NamespaceGetInfo(ctx, outsider, "app")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.svc.NamespaceGetInfo(ctx, manager, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	env.setStatus(t, "app", store.StatusArchived)
	_, err = env.svc.NamespaceGetInfo(ctx, user, "app")
	assert.ErrorIs(t, err, ErrPermissionDenied, "users lose access to archived namespaces")
	_, err = env.svc.NamespaceGetInfo(ctx, auditor, "app")
	assert.NoError(t, err)
}

func TestNamespaceUpdateInfo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createNamespace(t, "app")
	env.now = env.now.Add(5 * time.Second)

	desc := "updated"
	vis := store.VisibilityPublic
	require.NoError(t, env.svc.NamespaceUpdateInfo(ctx, manager, &UpdateNamespaceInput{Name: "app", Desc: &desc, Visibility: &vis}))

	info, err := env.svc.NamespaceGetInfo(ctx, outsider, "app")
	require.NoError(t, err, "public namespaces are readable by anyone")
	assert.Equal(t, desc, info.Desc)
	assert.Greater(t, info.UpdatedAt, info.CreatedAt)

	err = env.svc.NamespaceUpdateInfo(ctx, auditor, &UpdateNamespaceInput{Name: "app", Desc: &desc})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	bad := int8(2)
	err = env.svc.NamespaceUpdateInfo(ctx, manager, &UpdateNamespaceInput{Name: "app", Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	env.setStatus(t, "app", store.StatusReadOnly)
	err = env.svc.NamespaceUpdateInfo(ctx, manager, &UpdateNamespaceInput{Name: "app", Desc: &desc})
	assert.ErrorIs(t, err, ErrPermissionDenied, "read-only namespaces are frozen")
}

func TestNamespaceMembers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createNamespace(t, "app")

	ok, err := env.svc.NamespaceIsMember(ctx, user, "app", MemberUser, outsider)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, env.svc.NamespaceAddMembers(ctx, manager, "app", MemberUser, []store.Principal{outsider}))
	ok, err = env.svc.NamespaceIsMember(ctx, user, "app", MemberUser, outsider)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, env.svc.NamespaceRemoveMembers(ctx, manager, "app", MemberUser, []store.Principal{outsider}))
	_, err = env.svc.NamespaceIsMember(ctx, outsider, "app", MemberUser, outsider)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = env.svc.NamespaceAddMembers(ctx, manager, "app", MemberKind("owner"), []store.Principal{outsider})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = env.svc.NamespaceAddMembers(ctx, user, "app", MemberManager, []store.Principal{user})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = env.svc.NamespaceAddMembers(ctx, manager, "app", MemberAuditor, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNamespaceListSettingKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createNamespace(t, "app")
	require.NoError(t, env.svc.NamespaceAddMembers(ctx, manager, "app", MemberUser, []store.Principal{outsider}))

	for _, key := range []string{"b", "a"} {
		_, err := env.svc.SettingCreate(ctx, user, userPath("app", user, key), &CreateSettingInput{Payload: cborText(key)})
		require.NoError(t, err)
	}
	_, err := env.svc.SettingCreate(ctx, outsider, userPath("app", outsider, "c"), &CreateSettingInput{Payload: cborText("c")})
	require.NoError(t, err)
	_, err = env.svc.SettingCreate(ctx, manager, serverPath("app", "srv"), &CreateSettingInput{Payload: cborText("s")})
	require.NoError(t, err)

	all, err := env.svc.NamespaceListSettingKeys(ctx, auditor, "app", true, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []byte("a"), all[0].Key)
	assert.Equal(t, []byte("b"), all[1].Key)
	assert.Equal(t, outsider, all[2].Subject)

	own, err := env.svc.NamespaceListSettingKeys(ctx, user, "app", true, nil)
	require.NoError(t, err)
	require.Len(t, own, 2)
	for _, k := range own {
		assert.Equal(t, user, k.Subject)
	}

	other := outsider
	_, err = env.svc.NamespaceListSettingKeys(ctx, user, "app", true, &other)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	server, err := env.svc.NamespaceListSettingKeys(ctx, manager, "app", false, nil)
	require.NoError(t, err)
	require.Len(t, server, 1)
	assert.Equal(t, uint32(1), server[0].Version)
}

func TestNamespaceDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createNamespace(t, "app")
	env.createNamespace(t, "empty")

	_, err := env.svc.SettingCreate(ctx, manager, serverPath("app", "db"), &CreateSettingInput{Payload: cborText("v1")})
	require.NoError(t, err)

	err = env.svc.NamespaceDelete(ctx, manager, "app")
	assert.ErrorIs(t, err, ErrNotEmpty)

	err = env.svc.NamespaceDelete(ctx, user, "empty")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, env.svc.NamespaceDelete(ctx, manager, "empty"))
	_, err = env.svc.NamespaceGetInfo(ctx, manager, "empty")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNamespaceTopUp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createNamespace(t, "app")

	balance, err := env.svc.NamespaceTopUp(ctx, admin, "app", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)

	balance, err = env.svc.NamespaceTopUp(ctx, admin, "app", ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), balance, "balance saturates")

	_, err = env.svc.NamespaceTopUp(ctx, manager, "app", 1)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.svc.NamespaceTopUp(ctx, admin, "app", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate(store.ErrNotFound), ErrNotFound)
	assert.ErrorIs(t, translate(store.ErrNotEmpty), ErrNotEmpty)
	assert.ErrorIs(t, translate(store.ErrAlreadyExists), ErrAlreadyExists)
	assert.Nil(t, translate(nil))
	assert.ErrorIs(t, translate(denied("x")), ErrPermissionDenied)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "not_found", Kind(translate(store.ErrNotFound)))
	assert.Equal(t, "permission_denied", Kind(denied("nope")))
	assert.Equal(t, "invalid_argument", Kind(invalid("bad %d", 1)))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
