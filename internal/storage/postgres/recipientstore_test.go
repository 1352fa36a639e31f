package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

var columns = []string{"id", "kind", "email", "name", "token", "device_id", "platform",
	"app_version", "last_seen", "is_active", "created_at", "updated_at"}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *postgres.Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, postgres.NewStore(mock)
}

func TestStore_UpsertUserToken(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("New token", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE recipients SET token = NULL").
			WithArgs("tok-A", "user-1").
			WillReturnRows(pgxmock.NewRows([]string{"id"}))
		mock.ExpectQuery("INSERT INTO recipients").
			WithArgs("user-1", "a@example.com", "", "tok-A").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("user-1", "user", "a@example.com", "", "tok-A", "", "", "", &now, true, now, now))
		mock.ExpectCommit()

		r, released, err := store.UpsertUserToken(ctx, "user-1", recipient.Profile{Email: "a@example.com"}, "tok-A")
		require.NoError(t, err)
		assert.Equal(t, "user-1", r.ID)
		assert.Equal(t, recipient.KindUser, r.Kind)
		assert.Equal(t, "tok-A", r.Token)
		assert.Empty(t, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Token taken from another user", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE recipients SET token = NULL").
			WithArgs("tok-X", "bob").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("alice"))
		mock.ExpectQuery("INSERT INTO recipients").
			WithArgs("bob", "", "", "tok-X").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("bob", "user", "", "", "tok-X", "", "", "", &now, true, now, now))
		mock.ExpectCommit()

		_, released, err := store.UpsertUserToken(ctx, "bob", recipient.Profile{}, "tok-X")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, released)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_UpsertDeviceToken(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Upsert by token when no device id", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO recipients").
			WithArgs(pgxmock.AnyArg(), "tok-B", "", "android", "").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("dev-1", "device", "", "", "tok-B", "", "android", "", &now, true, now, now))
		mock.ExpectCommit()

		r, err := store.UpsertDeviceToken(ctx, "tok-B", recipient.DeviceInfo{Platform: "android"})
		require.NoError(t, err)
		assert.Equal(t, "dev-1", r.ID)
		assert.True(t, r.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rotation by device id short-circuits the insert", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE recipients SET").
			WithArgs("tok-new", "install-1", "", "").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("dev-1", "device", "", "", "tok-new", "install-1", "", "", &now, true, now, now))
		mock.ExpectCommit()

		r, err := store.UpsertDeviceToken(ctx, "tok-new", recipient.DeviceInfo{DeviceID: "install-1"})
		require.NoError(t, err)
		assert.Equal(t, "tok-new", r.Token)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Device id held by another row moves to the token's row", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE recipients SET").
			WithArgs("tok-C", "install-2", "", "").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectExec("UPDATE recipients SET device_id = NULL").
			WithArgs("install-2", "tok-C").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery("INSERT INTO recipients").
			WithArgs(pgxmock.AnyArg(), "tok-C", "install-2", "", "").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("dev-2", "device", "", "", "tok-C", "install-2", "", "", &now, true, now, now))
		mock.ExpectCommit()

		r, err := store.UpsertDeviceToken(ctx, "tok-C", recipient.DeviceInfo{DeviceID: "install-2"})
		require.NoError(t, err)
		assert.Equal(t, "dev-2", r.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_GetAndList(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Get missing returns ErrNotFound", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery("SELECT (.+) FROM recipients WHERE id").
			WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Get(ctx, "ghost")
		assert.ErrorIs(t, err, recipient.ErrNotFound)
	})

	t.Run("List scans every row", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery("SELECT (.+) FROM recipients ORDER BY created_at").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("dev-1", "device", "", "", "tok-1", "", "", "", &now, true, now, now).
				AddRow("dev-2", "device", "", "", "", "", "", "", &now, false, now, now))

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.True(t, all[0].Eligible())
		assert.False(t, all[1].HasToken())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_ClearTokenAndTouch(t *testing.T) {
	ctx := context.Background()

	t.Run("Clear existing", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec("UPDATE recipients SET").WithArgs("dev-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, store.ClearToken(ctx, "dev-1"))
	})

	t.Run("Clear missing", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec("UPDATE recipients SET").WithArgs("ghost").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		assert.ErrorIs(t, store.ClearToken(ctx, "ghost"), recipient.ErrNotFound)
	})

	t.Run("Touch", func(t *testing.T) {
		mock, store := newMock(t)
		at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectExec("UPDATE recipients SET last_seen").WithArgs("dev-1", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, store.Touch(ctx, "dev-1", at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
