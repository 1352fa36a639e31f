//go:build integration

package firestore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-broadcast-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

func setupSuite(t *testing.T) (context.Context, *fs.FirestoreStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	projectID := "test-recipient-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewFirestoreStore(client)
}

func TestRecipientStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Device registration is idempotent by token", func(t *testing.T) {
		first, err := store.UpsertDeviceToken(ctx, "ExponentPushToken[dev-1]", recipient.DeviceInfo{Platform: "android"})
		require.NoError(t, err)
		second, err := store.UpsertDeviceToken(ctx, "ExponentPushToken[dev-1]", recipient.DeviceInfo{AppVersion: "2.0.0"})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		got, err := store.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "android", got.Platform)
		assert.Equal(t, "2.0.0", got.AppVersion)
		assert.True(t, got.IsActive)
	})

	t.Run("Concurrent registrations of one token create one recipient", func(t *testing.T) {
		const workers = 5
		ids := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r, err := store.UpsertDeviceToken(ctx, "ExponentPushToken[race]", recipient.DeviceInfo{})
				assert.NoError(t, err)
				ids[i] = r.ID
			}(i)
		}
		wg.Wait()
		for _, id := range ids[1:] {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("User lifecycle", func(t *testing.T) {
		_, _, err := store.UpsertUserToken(ctx, "urn:sm:user:alice", recipient.Profile{Email: "alice@example.com"}, "tok-alice")
		require.NoError(t, err)

		require.NoError(t, store.ClearToken(ctx, "urn:sm:user:alice"))
		got, err := store.Get(ctx, "urn:sm:user:alice")
		require.NoError(t, err)
		assert.Empty(t, got.Token)
		assert.Equal(t, "alice@example.com", got.Email)

		assert.ErrorIs(t, store.ClearToken(ctx, "urn:sm:user:ghost"), recipient.ErrNotFound)
		_, err = store.Get(ctx, "urn:sm:user:ghost")
		assert.ErrorIs(t, err, recipient.ErrNotFound)
	})

	t.Run("User token moves between users", func(t *testing.T) {
		_, released, err := store.UpsertUserToken(ctx, "urn:sm:user:carol", recipient.Profile{}, "tok-shared")
		require.NoError(t, err)
		assert.Empty(t, released)

		_, released, err = store.UpsertUserToken(ctx, "urn:sm:user:dave", recipient.Profile{}, "tok-shared")
		require.NoError(t, err)
		assert.Equal(t, []string{"urn:sm:user:carol"}, released)

		carol, err := store.Get(ctx, "urn:sm:user:carol")
		require.NoError(t, err)
		assert.Empty(t, carol.Token)
	})

	t.Run("Device id moves to the record holding the token", func(t *testing.T) {
		old, err := store.UpsertDeviceToken(ctx, "ExponentPushToken[old]", recipient.DeviceInfo{DeviceID: "install-9"})
		require.NoError(t, err)
		other, err := store.UpsertDeviceToken(ctx, "ExponentPushToken[other]", recipient.DeviceInfo{})
		require.NoError(t, err)

		moved, err := store.UpsertDeviceToken(ctx, "ExponentPushToken[other]", recipient.DeviceInfo{DeviceID: "install-9"})
		require.NoError(t, err)
		assert.Equal(t, other.ID, moved.ID)

		stale, err := store.Get(ctx, old.ID)
		require.NoError(t, err)
		assert.Empty(t, stale.DeviceID)
		assert.False(t, stale.IsActive)
	})

	t.Run("List returns every recipient", func(t *testing.T) {
		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
	})
}
