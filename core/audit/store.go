// Package audit persists the append-only control-action trail. Every command
// attempt is one row, keyed by (event, unit, action_type, attempt); the only
// permitted mutation is attaching the asynchronous acknowledgement.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

// Query defines filters for retrieving actions. Results are totally ordered
// by (issued_at, attempt).
type Query struct {
	EventRef string
	UnitID   string
	Start    time.Time
	End      time.Time
}

// Store persists ControlActions and supports querying.
type Store interface {
	Append(ctx context.Context, a model.ControlAction) error
	AttachOutcome(ctx context.Context, key model.ActionKey, attempt int, success bool, response json.RawMessage, ackedAt time.Time) error
	Query(ctx context.Context, q Query) ([]model.ControlAction, error)
	Close() error
}

type attemptKey struct {
	model.ActionKey
	attempt int
}

// MemoryStore keeps actions in memory. It is the default for tests and the
// mock run mode.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []model.ControlAction
	keys map[attemptKey]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[attemptKey]int)}
}

// Append implements Store. Duplicate (event, unit, action_type, attempt) rows
// are rejected.
func (s *MemoryStore) Append(ctx context.Context, a model.ControlAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := attemptKey{ActionKey: a.Key(), attempt: a.Attempt}
	if _, dup := s.keys[k]; dup {
		return fmt.Errorf("audit: duplicate action %s/%s/%s attempt %d",
			a.EventRef, a.UnitID, a.Type, a.Attempt)
	}
	s.keys[k] = len(s.rows)
	s.rows = append(s.rows, a)
	return nil
}

// AttachOutcome implements Store.
func (s *MemoryStore) AttachOutcome(ctx context.Context, key model.ActionKey, attempt int, success bool, response json.RawMessage, ackedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.keys[attemptKey{ActionKey: key, attempt: attempt}]
	if !ok {
		return fmt.Errorf("audit: no action %s/%s/%s attempt %d", key.EventRef, key.UnitID, key.ActionType, attempt)
	}
	row := &s.rows[idx]
	row.Success = success
	row.Response = response
	t := ackedAt
	row.AcknowledgedAt = &t
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]model.ControlAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.ControlAction
	for _, a := range s.rows {
		if matches(a, q) {
			res = append(res, a)
		}
	}
	sortActions(res)
	return res, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func matches(a model.ControlAction, q Query) bool {
	if q.EventRef != "" && a.EventRef != q.EventRef {
		return false
	}
	if q.UnitID != "" && a.UnitID != q.UnitID {
		return false
	}
	if !q.Start.IsZero() && a.IssuedAt.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && a.IssuedAt.After(q.End) {
		return false
	}
	return true
}

func sortActions(res []model.ControlAction) {
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].IssuedAt.Equal(res[j].IssuedAt) {
			return res[i].IssuedAt.Before(res[j].IssuedAt)
		}
		return res[i].Attempt < res[j].Attempt
	})
}

// Succeeded reports whether the store holds a successful action for the key.
// The dispatcher uses it to keep re-evaluation passes idempotent.
func Succeeded(ctx context.Context, s Store, key model.ActionKey) (bool, error) {
	rows, err := s.Query(ctx, Query{EventRef: key.EventRef, UnitID: key.UnitID})
	if err != nil {
		return false, err
	}
	for _, a := range rows {
		if a.Type == key.ActionType && a.Success {
			return true, nil
		}
	}
	return false, nil
}
