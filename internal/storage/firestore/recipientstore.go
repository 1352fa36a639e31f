package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

const (
	recipientsCollection  = "recipients"
	tokenIndexCollection  = "recipient_tokens"
	deviceIndexCollection = "recipient_device_ids"
)

// FirestoreStore implements recipient.Store using Google Cloud Firestore.
// Upserts run in transactions over index documents keyed by sha256(token) and
// sha256(deviceID), so two registrations of one token cannot create two recipients.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

var _ recipient.Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, now: time.Now}
}

// recipientRecord is the internal DB representation.
type recipientRecord struct {
	Kind       string     `firestore:"kind"`
	Email      string     `firestore:"email,omitempty"`
	Name       string     `firestore:"name,omitempty"`
	Token      string     `firestore:"token"`
	DeviceID   string     `firestore:"device_id,omitempty"`
	Platform   string     `firestore:"platform,omitempty"`
	AppVersion string     `firestore:"app_version,omitempty"`
	LastSeen   *time.Time `firestore:"last_seen,omitempty"`
	IsActive   bool       `firestore:"is_active"`
	CreatedAt  time.Time  `firestore:"created_at"`
	UpdatedAt  time.Time  `firestore:"updated_at"`
}

type indexRecord struct {
	RecipientID string `firestore:"recipient_id"`
}

func (s *FirestoreStore) UpsertUserToken(ctx context.Context, userID string, profile recipient.Profile, token string) (recipient.Recipient, []string, error) {
	var out recipient.Recipient
	var released []string
	ref := s.recipientRef(userID)
	tokenRef := s.client.Collection(tokenIndexCollection).Doc(hashKey(token))

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.now()
		released = nil

		rec, found, err := getRecord(tx, ref)
		if err != nil {
			return err
		}
		prevID, err := lookupIndex(tx, tokenRef)
		if err != nil {
			return err
		}
		var prevRef *firestore.DocumentRef
		var prev recipientRecord
		if prevID != "" && prevID != userID {
			prevRef = s.recipientRef(prevID)
			var prevFound bool
			if prev, prevFound, err = getRecord(tx, prevRef); err != nil {
				return err
			}
			if !prevFound || prev.Token != token {
				prevRef = nil
			}
		}

		if !found {
			rec = recipientRecord{Kind: string(recipient.KindUser), CreatedAt: now}
		}
		if profile.Email != "" {
			rec.Email = profile.Email
		}
		if profile.Name != "" {
			rec.Name = profile.Name
		}
		oldToken := rec.Token
		rec.Token = token
		rec.IsActive = true
		rec.UpdatedAt = now

		if prevRef != nil {
			err := tx.Update(prevRef, []firestore.Update{
				{Path: "token", Value: ""},
				{Path: "updated_at", Value: now},
			})
			if err != nil {
				return err
			}
			released = append(released, prevID)
		}
		if err := tx.Set(ref, rec); err != nil {
			return err
		}
		if err := tx.Set(tokenRef, indexRecord{RecipientID: userID}); err != nil {
			return err
		}
		if oldToken != "" && oldToken != token {
			if err := tx.Delete(s.client.Collection(tokenIndexCollection).Doc(hashKey(oldToken))); err != nil {
				return err
			}
		}

		out = rec.toRecipient(userID)
		return nil
	})
	if err != nil {
		return recipient.Recipient{}, nil, fmt.Errorf("firestore upsert user token failed: %w", err)
	}
	return out, released, nil
}

func (s *FirestoreStore) UpsertDeviceToken(ctx context.Context, token string, info recipient.DeviceInfo) (recipient.Recipient, error) {
	var out recipient.Recipient
	tokenRef := s.client.Collection(tokenIndexCollection).Doc(hashKey(token))

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.now()

		// Reads first: Firestore transactions reject reads after writes.
		id, err := lookupIndex(tx, tokenRef)
		if err != nil {
			return err
		}
		var deviceRef, staleRef *firestore.DocumentRef
		if info.DeviceID != "" {
			deviceRef = s.client.Collection(deviceIndexCollection).Doc(hashKey(info.DeviceID))
			deviceOwner, err := lookupIndex(tx, deviceRef)
			if err != nil {
				return err
			}
			switch {
			case id == "":
				id = deviceOwner
			case deviceOwner != "" && deviceOwner != id:
				// The token's record takes the device id; the old holder is a stale install.
				staleRef = s.recipientRef(deviceOwner)
				if _, found, err := getRecord(tx, staleRef); err != nil {
					return err
				} else if !found {
					staleRef = nil
				}
			}
		}

		var rec recipientRecord
		found := false
		if id != "" {
			if rec, found, err = getRecord(tx, s.recipientRef(id)); err != nil {
				return err
			}
		} else {
			id = uuid.NewString()
		}
		if !found {
			rec = recipientRecord{Kind: string(recipient.KindDevice), CreatedAt: now}
		}

		oldToken := rec.Token
		rec.Token = token
		if info.DeviceID != "" {
			rec.DeviceID = info.DeviceID
		}
		if info.Platform != "" {
			rec.Platform = info.Platform
		}
		if info.AppVersion != "" {
			rec.AppVersion = info.AppVersion
		}
		rec.IsActive = true
		rec.LastSeen = &now
		rec.UpdatedAt = now

		if err := tx.Set(s.recipientRef(id), rec); err != nil {
			return err
		}
		if err := tx.Set(tokenRef, indexRecord{RecipientID: id}); err != nil {
			return err
		}
		if deviceRef != nil {
			if err := tx.Set(deviceRef, indexRecord{RecipientID: id}); err != nil {
				return err
			}
		}
		if staleRef != nil {
			err := tx.Update(staleRef, []firestore.Update{
				{Path: "device_id", Value: ""},
				{Path: "is_active", Value: false},
				{Path: "updated_at", Value: now},
			})
			if err != nil {
				return err
			}
		}
		if oldToken != "" && oldToken != token {
			if err := tx.Delete(s.client.Collection(tokenIndexCollection).Doc(hashKey(oldToken))); err != nil {
				return err
			}
		}

		out = rec.toRecipient(id)
		return nil
	})
	if err != nil {
		return recipient.Recipient{}, fmt.Errorf("firestore upsert device token failed: %w", err)
	}
	return out, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (recipient.Recipient, error) {
	doc, err := s.recipientRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return recipient.Recipient{}, fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
		}
		return recipient.Recipient{}, fmt.Errorf("firestore get failed: %w", err)
	}
	var rec recipientRecord
	if err := doc.DataTo(&rec); err != nil {
		return recipient.Recipient{}, fmt.Errorf("firestore decode failed: %w", err)
	}
	return rec.toRecipient(doc.Ref.ID), nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]recipient.Recipient, error) {
	iter := s.client.Collection(recipientsCollection).Documents(ctx)
	defer iter.Stop()

	out := make([]recipient.Recipient, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var rec recipientRecord
		if err := doc.DataTo(&rec); err != nil {
			// Skip corrupt rows rather than failing the whole listing.
			continue
		}
		out = append(out, rec.toRecipient(doc.Ref.ID))
	}
	return out, nil
}

func (s *FirestoreStore) ClearToken(ctx context.Context, id string) error {
	ref := s.recipientRef(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rec, found, err := getRecord(tx, ref)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
		}
		updates := []firestore.Update{{Path: "updated_at", Value: s.now()}}
		if rec.Kind == string(recipient.KindDevice) {
			updates = append(updates, firestore.Update{Path: "is_active", Value: false})
		} else {
			updates = append(updates, firestore.Update{Path: "token", Value: ""})
			if rec.Token != "" {
				if err := tx.Delete(s.client.Collection(tokenIndexCollection).Doc(hashKey(rec.Token))); err != nil {
					return err
				}
			}
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		if errors.Is(err, recipient.ErrNotFound) {
			return err
		}
		return fmt.Errorf("firestore clear token failed: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.recipientRef(id).Update(ctx, []firestore.Update{{Path: "last_seen", Value: at}})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
		}
		return fmt.Errorf("firestore touch failed: %w", err)
	}
	return nil
}

// --- Helpers ---

func (s *FirestoreStore) recipientRef(id string) *firestore.DocumentRef {
	return s.client.Collection(recipientsCollection).Doc(id)
}

func getRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (recipientRecord, bool, error) {
	var rec recipientRecord
	doc, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return rec, false, nil
		}
		return rec, false, err
	}
	if err := doc.DataTo(&rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func lookupIndex(tx *firestore.Transaction, ref *firestore.DocumentRef) (string, error) {
	doc, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}
	var idx indexRecord
	if err := doc.DataTo(&idx); err != nil {
		return "", err
	}
	return idx.RecipientID, nil
}

func (r recipientRecord) toRecipient(id string) recipient.Recipient {
	return recipient.Recipient{
		ID:         id,
		Kind:       recipient.Kind(r.Kind),
		Email:      r.Email,
		Name:       r.Name,
		Token:      r.Token,
		DeviceID:   r.DeviceID,
		Platform:   r.Platform,
		AppVersion: r.AppVersion,
		LastSeen:   r.LastSeen,
		IsActive:   r.IsActive,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func hashKey(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
