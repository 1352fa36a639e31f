// Package postgres implements the recipient store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recipientColumns = `id, kind, COALESCE(email, ''), COALESCE(name, ''), COALESCE(token, ''),
	COALESCE(device_id, ''), COALESCE(platform, ''), COALESCE(app_version, ''),
	last_seen, is_active, created_at, updated_at`

const (
	releaseTokenSQL = `UPDATE recipients SET token = NULL, updated_at = now()
		WHERE token = $1 AND id <> $2
		RETURNING id`

	upsertUserSQL = `INSERT INTO recipients (id, kind, email, name, token, is_active)
		VALUES ($1, 'user', NULLIF($2, ''), NULLIF($3, ''), $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, recipients.email),
			name = COALESCE(EXCLUDED.name, recipients.name),
			token = EXCLUDED.token,
			is_active = TRUE,
			updated_at = now()
		RETURNING ` + recipientColumns

	rotateDeviceSQL = `UPDATE recipients SET
			token = $1,
			platform = COALESCE(NULLIF($3, ''), platform),
			app_version = COALESCE(NULLIF($4, ''), app_version),
			last_seen = now(), is_active = TRUE, updated_at = now()
		WHERE device_id = $2
			AND NOT EXISTS (SELECT 1 FROM recipients other WHERE other.token = $1)
		RETURNING ` + recipientColumns

	// Runs before a token upsert that carries a device id: the row holding the token
	// takes the device id, so any other row with it is a stale install.
	releaseDeviceSQL = `UPDATE recipients SET device_id = NULL, is_active = FALSE, updated_at = now()
		WHERE device_id = $1 AND token IS DISTINCT FROM $2`

	upsertDeviceSQL = `INSERT INTO recipients (id, kind, token, device_id, platform, app_version, last_seen, is_active)
		VALUES ($1, 'device', $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now(), TRUE)
		ON CONFLICT (token) DO UPDATE SET
			device_id = COALESCE(EXCLUDED.device_id, recipients.device_id),
			platform = COALESCE(EXCLUDED.platform, recipients.platform),
			app_version = COALESCE(EXCLUDED.app_version, recipients.app_version),
			last_seen = now(),
			is_active = TRUE,
			updated_at = now()
		RETURNING ` + recipientColumns

	getSQL  = `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	listSQL = `SELECT ` + recipientColumns + ` FROM recipients ORDER BY created_at`

	clearTokenSQL = `UPDATE recipients SET
			token = CASE WHEN kind = 'device' THEN token ELSE NULL END,
			is_active = CASE WHEN kind = 'device' THEN FALSE ELSE is_active END,
			updated_at = now()
		WHERE id = $1`

	touchSQL = `UPDATE recipients SET last_seen = $2 WHERE id = $1`
)

type Store struct {
	db DB
}

var _ recipient.Store = (*Store)(nil)

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// UpsertUserToken moves the token away from any other user first: a token
// belongs to one installation, and the installation now belongs to userID.
func (s *Store) UpsertUserToken(ctx context.Context, userID string, profile recipient.Profile, token string) (recipient.Recipient, []string, error) {
	var out recipient.Recipient
	var released []string
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, releaseTokenSQL, token, userID)
		if err != nil {
			return err
		}
		if released, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
			return err
		}
		out, err = scanRecipient(tx.QueryRow(ctx, upsertUserSQL, userID, profile.Email, profile.Name, token))
		return err
	})
	if err != nil {
		return recipient.Recipient{}, nil, fmt.Errorf("failed to upsert user token: %w", err)
	}
	return out, released, nil
}

func (s *Store) UpsertDeviceToken(ctx context.Context, token string, info recipient.DeviceInfo) (recipient.Recipient, error) {
	var out recipient.Recipient
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if info.DeviceID != "" {
			r, err := scanRecipient(tx.QueryRow(ctx, rotateDeviceSQL, token, info.DeviceID, info.Platform, info.AppVersion))
			if err == nil {
				out = r
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			if _, err := tx.Exec(ctx, releaseDeviceSQL, info.DeviceID, token); err != nil {
				return err
			}
		}
		var err error
		out, err = scanRecipient(tx.QueryRow(ctx, upsertDeviceSQL,
			uuid.NewString(), token, info.DeviceID, info.Platform, info.AppVersion))
		return err
	})
	if err != nil {
		return recipient.Recipient{}, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (recipient.Recipient, error) {
	r, err := scanRecipient(s.db.QueryRow(ctx, getSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recipient.Recipient{}, fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
		}
		return recipient.Recipient{}, fmt.Errorf("failed to get recipient: %w", err)
	}
	return r, nil
}

func (s *Store) List(ctx context.Context) ([]recipient.Recipient, error) {
	rows, err := s.db.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	out := make([]recipient.Recipient, 0)
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}
	return out, nil
}

func (s *Store) ClearToken(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, clearTokenSQL, id)
	if err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, touchSQL, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
	}
	return nil
}

func scanRecipient(row pgx.Row) (recipient.Recipient, error) {
	var r recipient.Recipient
	var kind string
	err := row.Scan(&r.ID, &kind, &r.Email, &r.Name, &r.Token,
		&r.DeviceID, &r.Platform, &r.AppVersion,
		&r.LastSeen, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	r.Kind = recipient.Kind(kind)
	return r, err
}
