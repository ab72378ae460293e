package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

// JSONLStore stores actions as one JSON object per line. Outcome attachment
// appends a correction row rather than rewriting the file, keeping the file
// itself append-only; Query folds corrections into the original attempt.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

type jsonlRow struct {
	Action  model.ControlAction `json:"action"`
	Outcome bool                `json:"outcome_row,omitempty"`
}

// NewJSONLStore creates the file if needed.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

// Append implements Store.
func (s *JSONLStore) Append(ctx context.Context, a model.ControlAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(jsonlRow{Action: a})
}

// AttachOutcome implements Store.
func (s *JSONLStore) AttachOutcome(ctx context.Context, key model.ActionKey, attempt int, success bool, response json.RawMessage, ackedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := ackedAt
	a := model.ControlAction{
		EventRef:       key.EventRef,
		UnitID:         key.UnitID,
		Type:           key.ActionType,
		Attempt:        attempt,
		Success:        success,
		Response:       response,
		AcknowledgedAt: &t,
	}
	return s.write(jsonlRow{Action: a, Outcome: true})
}

func (s *JSONLStore) write(row jsonlRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(row)
}

// Query implements Store.
func (s *JSONLStore) Query(ctx context.Context, q Query) ([]model.ControlAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	byKey := make(map[attemptKey]int)
	var res []model.ControlAction
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row jsonlRow
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			continue
		}
		k := attemptKey{ActionKey: row.Action.Key(), attempt: row.Action.Attempt}
		if row.Outcome {
			if idx, ok := byKey[k]; ok {
				res[idx].Success = row.Action.Success
				res[idx].Response = row.Action.Response
				res[idx].AcknowledgedAt = row.Action.AcknowledgedAt
			}
			continue
		}
		byKey[k] = len(res)
		res = append(res, row.Action)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	filtered := res[:0]
	for _, a := range res {
		if matches(a, q) {
			filtered = append(filtered, a)
		}
	}
	out := append([]model.ControlAction(nil), filtered...)
	sortActions(out)
	return out, nil
}

// Close implements Store.
func (s *JSONLStore) Close() error { return nil }
