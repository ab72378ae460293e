package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/rongxinyin/pezzrr-app/core/adapter"
	"github.com/rongxinyin/pezzrr-app/core/audit"
	"github.com/rongxinyin/pezzrr-app/core/logger"
	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/plan"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

var _ logger.Logger = nopLogger{}

func testDispatcher(t *testing.T, client adapter.Client, store audit.Store) *Dispatcher {
	t.Helper()
	d, err := New(client, store, nil, nopLogger{}, Config{
		AckTimeoutSeconds: 1,
		MaxAttempts:       3,
		BackoffMS:         1,
		MaxParallel:       4,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func testEvent(target float64) *model.DREvent {
	return &model.DREvent{Reference: "evt-1", TargetKW: target, Status: model.StatusActive}
}

func testPlan(ev *model.DREvent, units ...model.Unit) plan.Plan {
	p := plan.Plan{EventRef: ev.Reference, TargetKW: ev.TargetKW}
	for _, u := range units {
		p.Actions = append(p.Actions, plan.Action{Unit: u, Type: model.ActionCurtail, EstimatedKW: u.RatedKW / 2, DemandKW: u.RatedKW / 2})
		p.EstimatedKW += u.RatedKW / 2
	}
	return p
}

func unit(id string) model.Unit {
	return model.Unit{ID: id, HomeID: "h-" + id, Category: model.CategoryPlug, RatedKW: 10, Controllable: true}
}

func TestExecuteRecordsAuditRows(t *testing.T) {
	client := adapter.NewMockClient()
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)
	ev := testEvent(10)

	res := d.Execute(context.Background(), ev, testPlan(ev, unit("u1"), unit("u2")), "test-loop")
	if res.Succeeded != 2 || res.Failed != 0 {
		t.Fatalf("want 2 successes, got %+v", res)
	}
	rows, err := store.Query(context.Background(), audit.Query{EventRef: "evt-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 audit rows, got %d", len(rows))
	}
	for _, r := range rows {
		if !r.Success || r.Attempt != 1 || r.AcknowledgedAt == nil {
			t.Fatalf("row not acknowledged: %+v", r)
		}
		if r.TriggeredBy != "test-loop" || len(r.Command) == 0 || len(r.Response) == 0 {
			t.Fatalf("row missing provenance: %+v", r)
		}
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	client := adapter.NewMockClient()
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)
	ev := testEvent(10)
	p := testPlan(ev, unit("u1"))

	if res := d.Execute(context.Background(), ev, p, "cycle"); res.Succeeded != 1 {
		t.Fatalf("first execute: %+v", res)
	}
	res := d.Execute(context.Background(), ev, p, "cycle")
	if res.Skipped != 1 || res.Succeeded != 0 {
		t.Fatalf("second execute must skip, got %+v", res)
	}
	if got := res.Outcomes["u1"].SkipReason; got != "already_succeeded" {
		t.Fatalf("skip reason %q", got)
	}
	if n := client.SentTo("u1"); n != 1 {
		t.Fatalf("unit received %d commands, want 1", n)
	}
}

func TestExecuteRetriesThenFails(t *testing.T) {
	client := adapter.NewMockClient()
	client.NackUnit("u1")
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)
	ev := testEvent(10)

	res := d.Execute(context.Background(), ev, testPlan(ev, unit("u1")), "cycle")
	out := res.Outcomes["u1"]
	if out.Success || out.Attempts != 3 {
		t.Fatalf("want 3 failed attempts, got %+v", out)
	}
	var derr *DispatchError
	if out.Err == nil {
		t.Fatal("missing dispatch error")
	}
	if !errors.As(out.Err, &derr) || derr.Attempts != 3 {
		t.Fatalf("want DispatchError after 3 attempts, got %v", out.Err)
	}
	rows, _ := store.Query(context.Background(), audit.Query{EventRef: "evt-1", UnitID: "u1"})
	if len(rows) != 3 {
		t.Fatalf("every attempt leaves a row, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Attempt != i+1 || r.Success {
			t.Fatalf("row %d: %+v", i, r)
		}
	}
}

func TestExecuteSendFailureLeavesRow(t *testing.T) {
	client := adapter.NewMockClient()
	client.FailSend("u1")
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)
	ev := testEvent(10)

	res := d.Execute(context.Background(), ev, testPlan(ev, unit("u1")), "cycle")
	if res.Failed != 1 {
		t.Fatalf("want 1 failure, got %+v", res)
	}
	rows, _ := store.Query(context.Background(), audit.Query{EventRef: "evt-1"})
	if len(rows) != 3 {
		t.Fatalf("want one row per attempt, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Error == "" || r.Success {
			t.Fatalf("send failure row must carry the error: %+v", r)
		}
	}
}

func TestUnitSerializationAcrossEvents(t *testing.T) {
	client := adapter.NewMockClient()
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)

	evA := testEvent(10)
	if res := d.Execute(context.Background(), evA, testPlan(evA, unit("u1")), "cycle"); res.Succeeded != 1 {
		t.Fatalf("event A execute: %+v", res)
	}

	// u1 is still locked by evt-1; a second event may not touch it
	evB := &model.DREvent{Reference: "evt-2", TargetKW: 10, Status: model.StatusActive}
	busy := d.BusyUnits("evt-2")
	if !busy["u1"] {
		t.Fatal("u1 should be busy for other events")
	}
	res := d.Execute(context.Background(), evB, testPlan(evB, unit("u1")), "cycle")
	if res.Skipped != 1 || res.Outcomes["u1"].SkipReason != "unit_busy" {
		t.Fatalf("second event must be refused: %+v", res)
	}

	d.ReleaseEvent("evt-1")
	if d.BusyUnits("evt-2")["u1"] {
		t.Fatal("lock survived release")
	}
	if res := d.Execute(context.Background(), evB, testPlan(evB, unit("u1")), "cycle"); res.Succeeded != 1 {
		t.Fatalf("after release: %+v", res)
	}
}

func TestExecuteAbortsOnCancelledContext(t *testing.T) {
	client := adapter.NewMockClient()
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)
	ev := testEvent(10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Execute(ctx, ev, testPlan(ev, unit("u1"), unit("u2")), "cycle")
	if res.Aborted != 2 {
		t.Fatalf("want both aborted, got %+v", res)
	}
	if n := len(client.Sent()); n != 0 {
		t.Fatalf("cancelled dispatch sent %d commands", n)
	}
}

func TestReleaseRestoresCurtailedUnits(t *testing.T) {
	client := adapter.NewMockClient()
	client.NackUnit("u2")
	store := audit.NewMemoryStore()
	d := testDispatcher(t, client, store)
	ev := testEvent(10)

	units := map[string]model.Unit{"u1": unit("u1"), "u2": unit("u2")}
	d.Execute(context.Background(), ev, testPlan(ev, units["u1"], units["u2"]), "cycle")

	res := d.Release(context.Background(), ev, units, "completion")
	if _, ok := res.Outcomes["u2"]; ok {
		t.Fatal("never-curtailed unit must not receive a release")
	}
	out, ok := res.Outcomes["u1"]
	if !ok || !out.Success || out.Action != model.ActionRelease {
		t.Fatalf("u1 release outcome: %+v", out)
	}

	// second release pass is a no-op: the successful release is on record
	res = d.Release(context.Background(), ev, units, "completion")
	if len(res.Outcomes) != 0 {
		t.Fatalf("release must be idempotent, got %+v", res.Outcomes)
	}
}
