// Package memory is an in-process recipient store for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-broadcast-service/pkg/recipient"
)

type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]recipient.Recipient
	order   []string
	byToken map[string]string
}

var _ recipient.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		now:     time.Now,
		records: make(map[string]recipient.Recipient),
		byToken: make(map[string]string),
	}
}

// Put inserts or replaces a record as-is. Used to seed fixtures.
func (s *Store) Put(r recipient.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(r)
}

func (s *Store) put(r recipient.Recipient) {
	if old, ok := s.records[r.ID]; ok {
		if old.Token != "" && s.byToken[old.Token] == r.ID {
			delete(s.byToken, old.Token)
		}
	} else {
		s.order = append(s.order, r.ID)
	}
	if r.Token != "" {
		s.byToken[r.Token] = r.ID
	}
	s.records[r.ID] = r
}

func (s *Store) UpsertUserToken(_ context.Context, userID string, profile recipient.Profile, token string) (recipient.Recipient, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var released []string
	if prevID, ok := s.byToken[token]; ok && prevID != userID {
		prev := s.records[prevID]
		prev.Token = ""
		prev.UpdatedAt = now
		s.put(prev)
		released = append(released, prevID)
	}

	r, ok := s.records[userID]
	if !ok {
		r = recipient.Recipient{ID: userID, Kind: recipient.KindUser, CreatedAt: now}
	}
	if profile.Email != "" {
		r.Email = profile.Email
	}
	if profile.Name != "" {
		r.Name = profile.Name
	}
	r.Token = token
	r.IsActive = true
	r.UpdatedAt = now
	s.put(r)
	return r, released, nil
}

func (s *Store) UpsertDeviceToken(_ context.Context, token string, info recipient.DeviceInfo) (recipient.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r, found := s.findDevice(token, info.DeviceID)
	if !found {
		r = recipient.Recipient{ID: uuid.NewString(), Kind: recipient.KindDevice, CreatedAt: now}
	}
	r.Token = token
	if info.DeviceID != "" {
		r.DeviceID = info.DeviceID
	}
	if info.Platform != "" {
		r.Platform = info.Platform
	}
	if info.AppVersion != "" {
		r.AppVersion = info.AppVersion
	}
	r.IsActive = true
	r.LastSeen = &now
	r.UpdatedAt = now
	s.put(r)
	if r.DeviceID != "" {
		s.releaseDeviceID(r.DeviceID, r.ID, now)
	}
	return r, nil
}

// releaseDeviceID deactivates any other record still carrying deviceID.
func (s *Store) releaseDeviceID(deviceID, keepID string, now time.Time) {
	for _, id := range s.order {
		if other := s.records[id]; id != keepID && other.DeviceID == deviceID {
			other.DeviceID = ""
			other.IsActive = false
			other.UpdatedAt = now
			s.put(other)
		}
	}
}

func (s *Store) findDevice(token, deviceID string) (recipient.Recipient, bool) {
	if id, ok := s.byToken[token]; ok {
		return s.records[id], true
	}
	if deviceID == "" {
		return recipient.Recipient{}, false
	}
	for _, id := range s.order {
		if r := s.records[id]; r.DeviceID == deviceID {
			return r, true
		}
	}
	return recipient.Recipient{}, false
}

func (s *Store) Get(_ context.Context, id string) (recipient.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return recipient.Recipient{}, fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
	}
	return r, nil
}

func (s *Store) List(_ context.Context) ([]recipient.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recipient.Recipient, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *Store) ClearToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
	}
	if r.Kind == recipient.KindDevice {
		r.IsActive = false
	} else {
		r.Token = ""
	}
	r.UpdatedAt = s.now()
	s.put(r)
	return nil
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("recipient %s: %w", id, recipient.ErrNotFound)
	}
	r.LastSeen = &at
	s.records[id] = r
	return nil
}
