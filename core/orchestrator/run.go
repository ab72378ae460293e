package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/audit"
	"github.com/rongxinyin/pezzrr-app/core/events"
	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/plan"
)

// Run drives the poll loop until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := time.Duration(o.cfg.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	o.log.Infof("orchestrator started, polling every %s", interval)
	for {
		select {
		case <-ctx.Done():
			o.log.Infof("orchestrator stopped: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			o.Poll(ctx)
		}
	}
}

// Poll advances every event one step: pending events activate at their start
// (or cancel unactivated past their end), active events re-evaluate at the
// configured cadence and complete at their end. One pass runs event work
// sequentially; the orchestrator is the single writer of event state.
func (o *Orchestrator) Poll(ctx context.Context) {
	now := o.now()

	type step struct {
		ref  string
		kind int
	}
	const (
		stepActivate = iota
		stepReeval
		stepComplete
		stepExpire
	)

	o.mu.Lock()
	var steps []step
	active := 0
	for ref, st := range o.events {
		switch st.ev.Status {
		case model.StatusPending:
			if !now.Before(st.ev.End) {
				steps = append(steps, step{ref, stepExpire})
			} else if !now.Before(st.ev.Start) {
				steps = append(steps, step{ref, stepActivate})
			}
		case model.StatusActive:
			active++
			if !now.Before(st.ev.End) {
				steps = append(steps, step{ref, stepComplete})
			} else if now.Sub(st.lastEval) >= time.Duration(o.cfg.ReevalIntervalSeconds)*time.Second {
				steps = append(steps, step{ref, stepReeval})
			}
		}
	}
	o.mu.Unlock()
	activeEvents.Set(float64(active))

	for _, s := range steps {
		if ctx.Err() != nil {
			return
		}
		switch s.kind {
		case stepExpire:
			o.expire(s.ref)
		case stepActivate:
			o.activate(ctx, s.ref)
		case stepReeval:
			o.runCycle(ctx, s.ref)
		case stepComplete:
			o.complete(ctx, s.ref)
		}
	}
}

// expire cancels a pending event whose window closed before activation.
func (o *Orchestrator) expire(ref string) {
	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok || st.ev.Status != model.StatusPending {
		o.mu.Unlock()
		return
	}
	if err := st.ev.Transition(model.StatusCancelled, o.now()); err != nil {
		o.mu.Unlock()
		o.log.Errorf("expire event %s: %v", ref, err)
		return
	}
	o.mu.Unlock()
	o.publishTransition(ref, model.StatusPending, model.StatusCancelled)
	o.log.Warnf("event %s expired before activation, cancelled", ref)
}

// activate moves a pending event to active once a live snapshot can be
// obtained, then runs the first curtailment cycle. A snapshot failure leaves
// the event pending; the next poll retries.
func (o *Orchestrator) activate(ctx context.Context, ref string) {
	snapCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.SnapshotTimeoutSeconds)*time.Second)
	_, err := o.provider.Snapshot(snapCtx)
	cancel()
	if err != nil {
		o.log.Warnf("event %s activation deferred, snapshot unavailable: %v", ref, err)
		return
	}

	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok || st.ev.Status != model.StatusPending {
		o.mu.Unlock()
		return
	}
	if err := st.ev.Transition(model.StatusActive, o.now()); err != nil {
		o.mu.Unlock()
		o.log.Errorf("activate event %s: %v", ref, err)
		return
	}
	o.mu.Unlock()
	o.publishTransition(ref, model.StatusPending, model.StatusActive)
	o.log.Infof("event %s active", ref)

	o.runCycle(ctx, ref)
}

// runCycle performs one curtailment pass for an active event: snapshot,
// score, plan against the remaining target, enroll the affected homes and
// dispatch. Units that already succeeded, units held by other events and
// units in opted-out homes are skipped.
func (o *Orchestrator) runCycle(ctx context.Context, ref string) {
	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok || st.ev.Status != model.StatusActive {
		o.mu.Unlock()
		return
	}
	ev := *st.ev
	units := make([]model.Unit, 0, len(o.units))
	for _, u := range o.units {
		units = append(units, u)
	}
	last := make(map[string]time.Time, len(o.lastCurtailed))
	for id, t := range o.lastCurtailed {
		last[id] = t
	}
	optedOut := make(map[string]bool)
	for home, p := range st.participants {
		if !p.OptedIn {
			optedOut[home] = true
		}
	}
	attempted := make(map[string]bool, len(st.attempted))
	for id := range st.attempted {
		attempted[id] = true
	}
	cycleCtx, cancelCycle := context.WithCancel(ctx)
	st.cancelCycle = cancelCycle
	o.mu.Unlock()
	defer cancelCycle()

	now := o.now()

	snapCtx, cancel := context.WithTimeout(cycleCtx, time.Duration(o.cfg.SnapshotTimeoutSeconds)*time.Second)
	snap, err := o.provider.Snapshot(snapCtx)
	cancel()
	if err != nil {
		o.log.Warnf("event %s cycle skipped, snapshot unavailable: %v", ref, err)
		o.markEval(ref, now)
		return
	}

	achievedKW, succeededUnits, err := o.achieved(cycleCtx, ref)
	if err != nil {
		o.log.Errorf("event %s cycle skipped, audit query failed: %v", ref, err)
		o.markEval(ref, now)
		return
	}

	candidates, skippedErrs := o.scorer.Rank(&ev, units, snap, last, now)
	for _, serr := range skippedErrs {
		o.log.Debugf("event %s: candidate excluded: %v", ref, serr)
	}

	skip := o.dispatcher.BusyUnits(ref)
	for id := range succeededUnits {
		skip[id] = true
	}
	// Units that exhausted their retry budget stay out for the rest of the
	// event; re-evaluation drafts fresh capacity instead.
	for id := range attempted {
		skip[id] = true
	}
	for _, u := range units {
		if optedOut[u.HomeID] {
			skip[u.ID] = true
		}
	}

	remaining := ev.TargetKW - achievedKW
	if remaining <= 0 {
		o.log.Infof("event %s: target met, %.2f kW achieved of %.2f kW", ref, achievedKW, ev.TargetKW)
		o.mu.Lock()
		if cur, ok := o.events[ref]; ok {
			// An earlier exhaustion no longer holds once the target is met.
			cur.ev.TargetUnmet = false
		}
		o.mu.Unlock()
		o.markEval(ref, now)
		return
	}
	cycleEv := ev
	cycleEv.TargetKW = remaining

	p, perr := o.planner.Build(&cycleEv, candidates, skip)
	if perr != nil {
		var exhausted *plan.ExhaustionError
		if errors.As(perr, &exhausted) {
			o.log.Warnf("event %s: %v", ref, perr)
			o.mu.Lock()
			if cur, ok := o.events[ref]; ok {
				cur.ev.TargetUnmet = true
			}
			o.mu.Unlock()
		} else {
			o.log.Errorf("event %s: planning aborted: %v", ref, perr)
			o.markEval(ref, now)
			return
		}
	}
	if o.bus != nil {
		o.bus.Publish(events.PlanEvent{
			EventRef:    ref,
			TargetKW:    cycleEv.TargetKW,
			EstimatedKW: p.EstimatedKW,
			Units:       len(p.Actions),
			TargetUnmet: p.TargetUnmet,
		})
	}
	if len(p.Actions) == 0 {
		o.markEval(ref, now)
		o.failIfUnreachable(ref, now)
		return
	}

	o.enrollPlanned(cycleCtx, &ev, p)

	res := o.dispatcher.Execute(cycleCtx, &cycleEv, p, o.cfg.TriggeredBy)

	o.mu.Lock()
	if cur, ok := o.events[ref]; ok {
		cur.everPlanned = true
		cur.lastEval = now
		for _, act := range p.Actions {
			cur.planned[model.ActionKey{EventRef: ref, UnitID: act.Unit.ID, ActionType: act.Type}] = true
		}
		for id, out := range res.Outcomes {
			if out.Skipped || out.Aborted {
				continue
			}
			cur.attempted[id] = true
			if out.Success {
				cur.anySuccess = true
				if out.Action != model.ActionRelease {
					o.lastCurtailed[id] = now
				}
			}
		}
	}
	o.mu.Unlock()

	o.log.Infof("event %s cycle: %d issued, %d ok, %d failed, %d skipped, %.2f kW achieved",
		ref, len(p.Actions), res.Succeeded, res.Failed, res.Skipped, achievedKW+res.AchievedKW())

	o.failIfUnreachable(ref, now)
}

// markEval records the evaluation timestamp without a dispatch pass.
func (o *Orchestrator) markEval(ref string, at time.Time) {
	o.mu.Lock()
	if st, ok := o.events[ref]; ok {
		st.lastEval = at
	}
	o.mu.Unlock()
}

// failIfUnreachable moves an active event to failed once every eligible unit
// has been attempted without a single success. Partial success never fails an
// event; the shortfall surfaces as target_unmet at completion instead.
func (o *Orchestrator) failIfUnreachable(ref string, now time.Time) {
	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok || st.ev.Status != model.StatusActive {
		o.mu.Unlock()
		return
	}
	if !st.everPlanned || st.anySuccess || !st.ev.TargetUnmet {
		o.mu.Unlock()
		return
	}
	for key := range st.planned {
		if !st.attempted[key.UnitID] {
			o.mu.Unlock()
			return
		}
	}
	if err := st.ev.Transition(model.StatusFailed, now); err != nil {
		o.mu.Unlock()
		o.log.Errorf("fail event %s: %v", ref, err)
		return
	}
	o.mu.Unlock()
	o.dispatcher.ReleaseEvent(ref)
	o.publishTransition(ref, model.StatusActive, model.StatusFailed)
	o.log.Errorf("event %s failed: no unit accepted a command", ref)
}

// enrollPlanned auto-enrolls every home that is about to receive a command
// and credits the planned estimate to its reduction target. Homes already
// enrolled keep their explicit choice.
func (o *Orchestrator) enrollPlanned(ctx context.Context, ev *model.DREvent, p plan.Plan) {
	type pending struct {
		home string
		kw   float64
	}
	o.mu.Lock()
	st, ok := o.events[ev.Reference]
	if !ok {
		o.mu.Unlock()
		return
	}
	var missing []pending
	seen := make(map[string]int)
	for _, act := range p.Actions {
		if _, enrolled := st.participants[act.Unit.HomeID]; enrolled {
			st.participants[act.Unit.HomeID].ReductionTargetKW += act.EstimatedKW
			continue
		}
		if i, dup := seen[act.Unit.HomeID]; dup {
			missing[i].kw += act.EstimatedKW
			continue
		}
		seen[act.Unit.HomeID] = len(missing)
		missing = append(missing, pending{home: act.Unit.HomeID, kw: act.EstimatedKW})
	}
	o.mu.Unlock()

	for _, m := range missing {
		part := o.newParticipant(ctx, ev, m.home)
		part.ReductionTargetKW = m.kw
		o.mu.Lock()
		if cur, dup := st.participants[m.home]; dup {
			cur.ReductionTargetKW += m.kw
		} else {
			st.participants[m.home] = part
		}
		o.mu.Unlock()
	}
}

// complete closes an active event at its end: commands are released
// best-effort, unit locks are freed and every participant is settled.
func (o *Orchestrator) complete(ctx context.Context, ref string) {
	achievedKW, _, err := o.achieved(ctx, ref)
	if err != nil {
		o.log.Errorf("event %s completion deferred, audit query failed: %v", ref, err)
		return
	}

	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok || st.ev.Status != model.StatusActive {
		o.mu.Unlock()
		return
	}
	now := o.now()
	// Achieved reduction is the authoritative measure at completion; an
	// exhaustion flag from an earlier pass does not survive a met target.
	st.ev.TargetUnmet = achievedKW < st.ev.TargetKW
	if err := st.ev.Transition(model.StatusCompleted, now); err != nil {
		o.mu.Unlock()
		o.log.Errorf("complete event %s: %v", ref, err)
		return
	}
	ev := *st.ev
	cancelCycle := st.cancelCycle
	unitsByID := make(map[string]model.Unit, len(o.units))
	for id, u := range o.units {
		unitsByID[id] = u
	}
	o.mu.Unlock()

	if cancelCycle != nil {
		cancelCycle()
	}
	o.publishTransition(ref, model.StatusActive, model.StatusCompleted)
	o.log.Infof("event %s completed: %.2f kW achieved of %.2f kW target, unmet=%t",
		ref, achievedKW, ev.TargetKW, ev.TargetUnmet)

	rel := o.dispatcher.Release(ctx, &ev, unitsByID, o.cfg.TriggeredBy)
	if rel.Failed > 0 {
		o.log.Warnf("event %s: %d release commands not acknowledged", ref, rel.Failed)
	}
	o.dispatcher.ReleaseEvent(ref)

	o.settle(ctx, ref, &ev, now)
}

// Resettle recomputes settlement for a completed event. The computation is
// pure over the stored telemetry window, so repeated calls converge to the
// same figures once the history backfills. Cancelled and failed events are
// never settled.
func (o *Orchestrator) Resettle(ctx context.Context, ref string) ([]model.Participant, error) {
	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok {
		o.mu.Unlock()
		return nil, &ValidationError{Reference: ref, Reason: "unknown event"}
	}
	if st.ev.Status != model.StatusCompleted {
		o.mu.Unlock()
		return nil, &ValidationError{Reference: ref, Reason: "event is not completed"}
	}
	ev := *st.ev
	o.mu.Unlock()

	o.settle(ctx, ref, &ev, o.now())
	return o.Participants(ref), nil
}

func (o *Orchestrator) settle(ctx context.Context, ref string, ev *model.DREvent, now time.Time) {
	parts := o.Participants(ref)
	if len(parts) == 0 {
		return
	}
	settled := o.calc.Settle(ctx, ev, parts, now)

	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.events[ref]
	if !ok {
		return
	}
	for i := range settled {
		p := settled[i]
		st.participants[p.HomeID] = &p
	}
}

// achieved sums the estimated reduction of acknowledged curtail and setpoint
// actions for the event and reports which units they landed on.
func (o *Orchestrator) achieved(ctx context.Context, ref string) (float64, map[string]bool, error) {
	rows, err := o.store.Query(ctx, audit.Query{EventRef: ref})
	if err != nil {
		return 0, nil, err
	}
	total := 0.0
	units := make(map[string]bool)
	for _, r := range rows {
		if !r.Success || r.Type == model.ActionRelease {
			continue
		}
		if units[r.UnitID] {
			continue
		}
		units[r.UnitID] = true
		total += r.EstimatedKW
	}
	return total, units, nil
}
