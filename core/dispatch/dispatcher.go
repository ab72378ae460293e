// Package dispatch executes planned control actions against device adapters.
// One command decision maps to exactly one in-flight command, every attempt
// leaves one audit row, and units never receive commands from two events at
// once.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/adapter"
	"github.com/rongxinyin/pezzrr-app/core/audit"
	"github.com/rongxinyin/pezzrr-app/core/events"
	"github.com/rongxinyin/pezzrr-app/core/logger"
	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/plan"
	"github.com/rongxinyin/pezzrr-app/internal/eventbus"
)

// DispatchError reports a command that exhausted its retry budget.
type DispatchError struct {
	EventRef string
	UnitID   string
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: unit %s failed after %d attempts (event %s): %v",
		e.UnitID, e.Attempts, e.EventRef, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Outcome is the per-unit result of one dispatch cycle.
type Outcome struct {
	UnitID      string
	Action      model.ActionType
	EstimatedKW float64
	Attempts    int
	Success     bool
	Skipped     bool
	SkipReason  string
	Aborted     bool
	Err         error
}

// Result aggregates one dispatch cycle.
type Result struct {
	EventRef  string
	Outcomes  map[string]Outcome
	Succeeded int
	Failed    int
	Skipped   int
	Aborted   int
}

// AchievedKW sums the estimated reductions of acknowledged actions.
func (r Result) AchievedKW() float64 {
	total := 0.0
	for _, o := range r.Outcomes {
		if o.Success {
			total += o.EstimatedKW
		}
	}
	return total
}

// Dispatcher sends commands through the adapter boundary with idempotence,
// per-unit serialization, bounded fan-out, retries and audit logging.
type Dispatcher struct {
	client adapter.Client
	store  audit.Store
	bus    eventbus.EventBus
	log    logger.Logger
	cfg    Config
	locks  *unitLocks
	sem    chan struct{}
	now    func() time.Time

	mu       sync.Mutex
	inflight map[model.ActionKey]bool
}

// New creates a Dispatcher.
func New(client adapter.Client, store audit.Store, bus eventbus.EventBus, log logger.Logger, cfg Config) (*Dispatcher, error) {
	if client == nil || store == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to New")
	}
	cfg.SetDefaults()
	return &Dispatcher{
		client:   client,
		store:    store,
		bus:      bus,
		log:      log,
		cfg:      cfg,
		locks:    newUnitLocks(),
		sem:      make(chan struct{}, cfg.MaxParallel),
		now:      time.Now,
		inflight: make(map[model.ActionKey]bool),
	}, nil
}

// SetNow overrides the clock used to stamp audit rows.
func (d *Dispatcher) SetNow(now func() time.Time) { d.now = now }

// BusyUnits returns units currently committed to events other than eventRef.
// The planner excludes them for the cycle.
func (d *Dispatcher) BusyUnits(eventRef string) map[string]bool {
	return d.locks.busyFor(eventRef)
}

// ReleaseEvent frees every unit lock held by the event. Called by the
// orchestrator when the event reaches a terminal state.
func (d *Dispatcher) ReleaseEvent(eventRef string) {
	d.locks.releaseEvent(eventRef)
}

// Execute runs one dispatch cycle for the plan. Fan-out across units is
// parallel and bounded; a cancelled context stops further commands but does
// not recall those already sent.
func (d *Dispatcher) Execute(ctx context.Context, ev *model.DREvent, p plan.Plan, triggeredBy string) Result {
	res := Result{EventRef: ev.Reference, Outcomes: make(map[string]Outcome)}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	record := func(id string, o Outcome) {
		mu.Lock()
		res.Outcomes[id] = o
		mu.Unlock()
	}
	for _, act := range p.Actions {
		key := model.ActionKey{EventRef: ev.Reference, UnitID: act.Unit.ID, ActionType: act.Type}
		if reason, ok := d.begin(ctx, key); !ok {
			record(act.Unit.ID, Outcome{
				UnitID: act.Unit.ID, Action: act.Type, EstimatedKW: act.EstimatedKW,
				Skipped: true, SkipReason: reason,
			})
			continue
		}
		wg.Add(1)
		go func(act plan.Action, key model.ActionKey) {
			defer wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			out := d.dispatchUnit(ctx, ev, act, key, triggeredBy, d.cfg.MaxAttempts)
			d.finish(key)
			record(act.Unit.ID, out)
		}(act, key)
	}
	wg.Wait()
	d.tally(&res)
	return res
}

// Release issues best-effort restore commands to every unit the event
// successfully curtailed. Single attempt per unit; failures are logged and
// audited but not retried.
func (d *Dispatcher) Release(ctx context.Context, ev *model.DREvent, units map[string]model.Unit, triggeredBy string) Result {
	res := Result{EventRef: ev.Reference, Outcomes: make(map[string]Outcome)}
	rows, err := d.store.Query(ctx, audit.Query{EventRef: ev.Reference})
	if err != nil {
		d.log.Errorf("release query failed for event %s: %v", ev.Reference, err)
		return res
	}
	restore := make(map[string]bool)
	for _, a := range rows {
		switch a.Type {
		case model.ActionCurtail, model.ActionSetpointAdjust:
			if a.Success {
				restore[a.UnitID] = true
			}
		case model.ActionRelease:
			if a.Success {
				delete(restore, a.UnitID)
			}
		}
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for id := range restore {
		u, ok := units[id]
		if !ok {
			continue
		}
		key := model.ActionKey{EventRef: ev.Reference, UnitID: id, ActionType: model.ActionRelease}
		if _, ok := d.begin(ctx, key); !ok {
			continue
		}
		wg.Add(1)
		go func(u model.Unit, key model.ActionKey) {
			defer wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			act := plan.Action{Unit: u, Type: model.ActionRelease}
			out := d.dispatchUnit(ctx, ev, act, key, triggeredBy, 1)
			d.finish(key)
			mu.Lock()
			res.Outcomes[u.ID] = out
			mu.Unlock()
		}(u, key)
	}
	wg.Wait()
	d.tally(&res)
	return res
}

// begin guards a command decision: no second command while one is in flight
// or after one already succeeded, and no command to a unit held by another
// event.
func (d *Dispatcher) begin(ctx context.Context, key model.ActionKey) (string, bool) {
	done, err := audit.Succeeded(ctx, d.store, key)
	if err != nil {
		d.log.Errorf("audit lookup failed for %s/%s: %v", key.EventRef, key.UnitID, err)
	}
	if done {
		return "already_succeeded", false
	}
	d.mu.Lock()
	if d.inflight[key] {
		d.mu.Unlock()
		return "inflight", false
	}
	d.inflight[key] = true
	d.mu.Unlock()
	if !d.locks.acquire(key.UnitID, key.EventRef) {
		d.finish(key)
		return "unit_busy", false
	}
	return "", true
}

func (d *Dispatcher) finish(key model.ActionKey) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

// dispatchUnit runs the attempt loop for one unit. Exactly one audit row is
// written per attempt, success or failure.
func (d *Dispatcher) dispatchUnit(ctx context.Context, ev *model.DREvent, act plan.Action, key model.ActionKey, triggeredBy string, maxAttempts int) Outcome {
	out := Outcome{UnitID: act.Unit.ID, Action: act.Type, EstimatedKW: act.EstimatedKW}
	backoff := time.Duration(d.cfg.BackoffMS) * time.Millisecond
	ackTimeout := time.Duration(d.cfg.AckTimeoutSeconds) * time.Second
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			out.Aborted = true
			out.Err = ctx.Err()
			return out
		}
		out.Attempts = attempt
		issued := d.now()
		start := time.Now()
		cmd := adapter.Command{
			UnitID:    act.Unit.ID,
			Category:  act.Unit.Category,
			Action:    act.Type,
			Params:    commandParams(act),
			Timestamp: issued.UnixMilli(),
		}
		row := model.ControlAction{
			EventRef:      ev.Reference,
			UnitID:        act.Unit.ID,
			Type:          act.Type,
			Attempt:       attempt,
			TriggeredBy:   triggeredBy,
			PriorityScore: act.Score,
			TargetKW:      ev.TargetKW,
			DemandKW:      act.DemandKW,
			EstimatedKW:   act.EstimatedKW,
			IssuedAt:      issued,
		}

		cmdID, sendErr := d.client.Send(ctx, cmd)
		if sendErr != nil {
			sendFailure.Inc()
			lastErr = sendErr
			row.Error = sendErr.Error()
			if err := d.store.Append(ctx, row); err != nil {
				d.log.Errorf("audit append failed for %s: %v", act.Unit.ID, err)
			}
			d.publishAction(ev, act, attempt, false, sendErr, time.Since(start))
		} else {
			sendSuccess.Inc()
			cmd.CommandID = cmdID
			if b, err := json.Marshal(cmd); err == nil {
				row.Command = b
			}
			if err := d.store.Append(ctx, row); err != nil {
				d.log.Errorf("audit append failed for %s: %v", act.Unit.ID, err)
			}
			actionsIssued.WithLabelValues(act.Type.String()).Inc()

			ack, ackErr := d.client.WaitForAck(cmdID, ackTimeout)
			latency := time.Since(start)
			commandLatency.WithLabelValues(act.Type.String()).Observe(latency.Seconds())

			success := ackErr == nil && ack.Success
			if ackErr != nil {
				lastErr = ackErr
				ack = adapter.Ack{CommandID: cmdID, Success: false, Detail: ackErr.Error()}
			} else if !ack.Success {
				lastErr = fmt.Errorf("device rejected command: %s", ack.Detail)
			}
			resp, _ := json.Marshal(ack)
			if err := d.store.AttachOutcome(ctx, key, attempt, success, resp, d.now()); err != nil {
				d.log.Errorf("audit outcome failed for %s: %v", act.Unit.ID, err)
			}
			d.publishAction(ev, act, attempt, success, lastErrIfFailed(success, lastErr), latency)
			if success {
				out.Success = true
				return out
			}
		}

		if attempt < maxAttempts {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				out.Aborted = true
				out.Err = ctx.Err()
				return out
			case <-timer.C:
			}
			backoff *= 2
		}
	}
	out.Err = &DispatchError{EventRef: ev.Reference, UnitID: act.Unit.ID, Attempts: maxAttempts, Err: lastErr}
	d.log.Warnf("unit %s excluded from event %s cycle: %v", act.Unit.ID, ev.Reference, out.Err)
	return out
}

func (d *Dispatcher) publishAction(ev *model.DREvent, act plan.Action, attempt int, success bool, err error, latency time.Duration) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.ActionEvent{
		EventRef: ev.Reference,
		UnitID:   act.Unit.ID,
		Action:   act.Type,
		Attempt:  attempt,
		Success:  success,
		Err:      err,
		Latency:  latency,
	})
}

func (d *Dispatcher) tally(res *Result) {
	acked := make(map[model.ActionType]int)
	total := make(map[model.ActionType]int)
	for _, o := range res.Outcomes {
		switch {
		case o.Skipped:
			res.Skipped++
		case o.Aborted:
			res.Aborted++
		case o.Success:
			res.Succeeded++
			acked[o.Action]++
			total[o.Action]++
		default:
			res.Failed++
			total[o.Action]++
		}
	}
	for t, n := range total {
		if n > 0 {
			ackRate.WithLabelValues(t.String()).Set(float64(acked[t]) / float64(n))
		}
	}
}

func lastErrIfFailed(success bool, err error) error {
	if success {
		return nil
	}
	return err
}

// commandParams builds the per-category command parameters.
func commandParams(act plan.Action) map[string]float64 {
	params := make(map[string]float64)
	switch act.Type {
	case model.ActionSetpointAdjust:
		delta := act.Unit.Config.SetpointDeltaF
		if delta == 0 {
			delta = 2.0
		}
		params["setpoint_delta_f"] = delta
	case model.ActionCurtail:
		switch act.Unit.Category {
		case model.CategoryBattery:
			params["discharge_enable"] = 1
			if act.Unit.Config.MinSoCPercent > 0 {
				params["min_soc_percent"] = act.Unit.Config.MinSoCPercent
			}
		case model.CategoryPanel:
			params["breaker_position"] = float64(act.Unit.Config.BreakerPosition)
			params["on"] = 0
		case model.CategoryPlug, model.CategoryThermostat:
			params["on"] = 0
		}
	case model.ActionRelease:
		params["restore"] = 1
	}
	return params
}
