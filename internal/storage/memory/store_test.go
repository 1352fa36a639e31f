package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/storage/memory"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

func TestStore_DeviceUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	first, err := store.UpsertDeviceToken(ctx, "tok-A", recipient.DeviceInfo{Platform: "ios"})
	require.NoError(t, err)
	second, err := store.UpsertDeviceToken(ctx, "tok-A", recipient.DeviceInfo{AppVersion: "1.2.0"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ios", second.Platform)
	assert.Equal(t, "1.2.0", second.AppVersion)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_DeviceTokenRotationByDeviceID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	first, err := store.UpsertDeviceToken(ctx, "tok-old", recipient.DeviceInfo{DeviceID: "install-1"})
	require.NoError(t, err)
	rotated, err := store.UpsertDeviceToken(ctx, "tok-new", recipient.DeviceInfo{DeviceID: "install-1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, rotated.ID)
	assert.Equal(t, "tok-new", rotated.Token)

	// The old token no longer resolves to the device.
	fresh, err := store.UpsertDeviceToken(ctx, "tok-old", recipient.DeviceInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
}

func TestStore_UserTokenMovesBetweenUsers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	_, released, err := store.UpsertUserToken(ctx, "alice", recipient.Profile{}, "tok-X")
	require.NoError(t, err)
	assert.Empty(t, released)

	_, released, err = store.UpsertUserToken(ctx, "bob", recipient.Profile{}, "tok-X")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, released)

	alice, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, alice.HasToken())

	// Re-recording for the current owner releases nothing.
	_, released, err = store.UpsertUserToken(ctx, "bob", recipient.Profile{}, "tok-X")
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestStore_DeviceIDStaysOnOneRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	old, err := store.UpsertDeviceToken(ctx, "tok-1", recipient.DeviceInfo{DeviceID: "install-1"})
	require.NoError(t, err)
	other, err := store.UpsertDeviceToken(ctx, "tok-2", recipient.DeviceInfo{})
	require.NoError(t, err)

	// tok-2 already has a record, so that record takes the device id.
	moved, err := store.UpsertDeviceToken(ctx, "tok-2", recipient.DeviceInfo{DeviceID: "install-1"})
	require.NoError(t, err)
	assert.Equal(t, other.ID, moved.ID)
	assert.Equal(t, "install-1", moved.DeviceID)

	stale, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, stale.DeviceID)
	assert.False(t, stale.IsActive)
}

func TestStore_ClearToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	t.Run("User token is cleared", func(t *testing.T) {
		_, _, err := store.UpsertUserToken(ctx, "user-1", recipient.Profile{Email: "a@b.c"}, "tok-user")
		require.NoError(t, err)
		require.NoError(t, store.ClearToken(ctx, "user-1"))

		r, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, r.HasToken())
		assert.Equal(t, "a@b.c", r.Email)
	})

	t.Run("Device is deactivated", func(t *testing.T) {
		d, err := store.UpsertDeviceToken(ctx, "tok-dev", recipient.DeviceInfo{})
		require.NoError(t, err)
		require.NoError(t, store.ClearToken(ctx, d.ID))

		r, err := store.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.False(t, r.IsActive)
		assert.False(t, r.Eligible())
	})

	t.Run("Unknown id", func(t *testing.T) {
		assert.ErrorIs(t, store.ClearToken(ctx, "ghost"), recipient.ErrNotFound)
	})
}

func TestStore_Touch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	d, err := store.UpsertDeviceToken(ctx, "tok", recipient.DeviceInfo{})
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Touch(ctx, d.ID, at))

	r, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, r.LastSeen)
	assert.True(t, at.Equal(*r.LastSeen))

	_, err = store.Get(ctx, "ghost")
	assert.ErrorIs(t, err, recipient.ErrNotFound)
}
