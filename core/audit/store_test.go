package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/model"
)

var issueTime = time.Date(2025, 7, 1, 17, 0, 0, 0, time.UTC)

func row(event, unit string, attempt int) model.ControlAction {
	return model.ControlAction{
		EventRef:    event,
		UnitID:      unit,
		Type:        model.ActionCurtail,
		Attempt:     attempt,
		TriggeredBy: "test",
		EstimatedKW: 5,
		IssuedAt:    issueTime.Add(time.Duration(attempt) * time.Second),
	}
}

func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("append and query", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		if err := s.Append(ctx, row("evt-1", "u1", 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := s.Append(ctx, row("evt-1", "u2", 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := s.Append(ctx, row("evt-2", "u1", 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
		rows, err := s.Query(ctx, Query{EventRef: "evt-1"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 rows for evt-1, got %d", len(rows))
		}
		rows, err = s.Query(ctx, Query{UnitID: "u1"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("want 2 rows for u1, got %d", len(rows))
		}
	})

	t.Run("attach outcome", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		a := row("evt-1", "u1", 1)
		if err := s.Append(ctx, a); err != nil {
			t.Fatalf("append: %v", err)
		}
		ack := json.RawMessage(`{"command_id":"c1","success":true}`)
		acked := issueTime.Add(2 * time.Second)
		if err := s.AttachOutcome(ctx, a.Key(), 1, true, ack, acked); err != nil {
			t.Fatalf("attach: %v", err)
		}
		rows, _ := s.Query(ctx, Query{EventRef: "evt-1"})
		if len(rows) != 1 {
			t.Fatalf("outcome must not create rows, got %d", len(rows))
		}
		got := rows[0]
		if !got.Success || got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(acked) {
			t.Fatalf("outcome not attached: %+v", got)
		}
		if string(got.Response) != string(ack) {
			t.Fatalf("response not stored: %s", got.Response)
		}
	})

	t.Run("ordered by issue time then attempt", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		for _, attempt := range []int{3, 1, 2} {
			if err := s.Append(ctx, row("evt-1", "u1", attempt)); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		rows, _ := s.Query(ctx, Query{EventRef: "evt-1"})
		for i, r := range rows {
			if r.Attempt != i+1 {
				t.Fatalf("row %d out of order: attempt %d", i, r.Attempt)
			}
		}
	})

	t.Run("time window filter", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()
		for attempt := 1; attempt <= 3; attempt++ {
			if err := s.Append(ctx, row("evt-1", "u1", attempt)); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		rows, _ := s.Query(ctx, Query{Start: issueTime.Add(2 * time.Second), End: issueTime.Add(2 * time.Second)})
		if len(rows) != 1 || rows[0].Attempt != 2 {
			t.Fatalf("window filter broken: %+v", rows)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestJSONLStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewJSONLStore(filepath.Join(t.TempDir(), "actions.jsonl"))
		if err != nil {
			t.Fatalf("open jsonl store: %v", err)
		}
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "actions.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return s
	})
}

func TestMemoryStoreRejectsDuplicateAttempt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Append(ctx, row("evt-1", "u1", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, row("evt-1", "u1", 1)); err == nil {
		t.Fatal("duplicate attempt accepted")
	}
}

func TestSucceededHelper(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := row("evt-1", "u1", 1)
	if err := s.Append(ctx, a); err != nil {
		t.Fatalf("append: %v", err)
	}
	ok, err := Succeeded(ctx, s, a.Key())
	if err != nil || ok {
		t.Fatalf("unacknowledged action counted as success: ok=%t err=%v", ok, err)
	}
	if err := s.AttachOutcome(ctx, a.Key(), 1, true, nil, issueTime); err != nil {
		t.Fatalf("attach: %v", err)
	}
	ok, err = Succeeded(ctx, s, a.Key())
	if err != nil || !ok {
		t.Fatalf("acknowledged action not found: ok=%t err=%v", ok, err)
	}
}

func TestAuditConfigOpen(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	if cfg.Backend != "sqlite" {
		t.Fatalf("default backend %s", cfg.Backend)
	}
	cfg = Config{Backend: "memory"}
	s, err := cfg.Open()
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("wrong store type %T", s)
	}
	if err := (Config{Backend: "redis"}).Validate(); err == nil {
		t.Fatal("unknown backend accepted")
	}
}
