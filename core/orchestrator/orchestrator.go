// Package orchestrator owns the demand-response event state machine. It is
// the single writer of event and participant state: inbound signals create
// events, the poll loop drives them through activation, re-evaluation,
// completion and settlement, and external readers only ever see copies.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rongxinyin/pezzrr-app/core/audit"
	"github.com/rongxinyin/pezzrr-app/core/dispatch"
	"github.com/rongxinyin/pezzrr-app/core/events"
	"github.com/rongxinyin/pezzrr-app/core/ilc"
	"github.com/rongxinyin/pezzrr-app/core/logger"
	"github.com/rongxinyin/pezzrr-app/core/model"
	"github.com/rongxinyin/pezzrr-app/core/plan"
	"github.com/rongxinyin/pezzrr-app/core/settlement"
	"github.com/rongxinyin/pezzrr-app/core/telemetry"
	"github.com/rongxinyin/pezzrr-app/internal/eventbus"
)

// ValidationError rejects a malformed or duplicate inbound event notice. The
// event is never created.
type ValidationError struct {
	Reference string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event notice %q: %s", e.Reference, e.Reason)
}

// SignalNotice is the inbound DR-signal payload, the sole event-creation path.
type SignalNotice struct {
	Reference string           `json:"event_reference"`
	Type      model.SignalType `json:"-"`
	TypeName  string           `json:"signal_type"`
	Level     int              `json:"level"`
	TargetKW  float64          `json:"target_kw"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Priority  int              `json:"priority"`
	Test      bool             `json:"test"`
}

// eventState is the orchestrator-private state of one event.
type eventState struct {
	ev           *model.DREvent
	participants map[string]*model.Participant
	planned      map[model.ActionKey]bool
	attempted    map[string]bool
	anySuccess   bool
	everPlanned  bool
	lastEval     time.Time
	cancelCycle  context.CancelFunc
}

// Orchestrator coordinates scoring, planning, dispatch and settlement for a
// single fleet.
type Orchestrator struct {
	cfg        Config
	scorer     *ilc.Scorer
	planner    *plan.Planner
	dispatcher *dispatch.Dispatcher
	provider   telemetry.Provider
	history    telemetry.HistoryReader
	calc       *settlement.Calculator
	store      audit.Store
	bus        eventbus.EventBus
	log        logger.Logger
	now        func() time.Time

	mu            sync.Mutex
	events        map[string]*eventState
	units         map[string]model.Unit
	lastCurtailed map[string]time.Time
}

// New creates an Orchestrator.
func New(cfg Config, scorer *ilc.Scorer, planner *plan.Planner, dispatcher *dispatch.Dispatcher,
	provider telemetry.Provider, history telemetry.HistoryReader, calc *settlement.Calculator,
	store audit.Store, bus eventbus.EventBus, log logger.Logger) (*Orchestrator, error) {
	if scorer == nil || planner == nil || dispatcher == nil || provider == nil || calc == nil || store == nil || log == nil {
		return nil, fmt.Errorf("orchestrator: nil parameter provided to New")
	}
	cfg.SetDefaults()
	return &Orchestrator{
		cfg:           cfg,
		scorer:        scorer,
		planner:       planner,
		dispatcher:    dispatcher,
		provider:      provider,
		history:       history,
		calc:          calc,
		store:         store,
		bus:           bus,
		log:           log,
		now:           time.Now,
		events:        make(map[string]*eventState),
		units:         make(map[string]model.Unit),
		lastCurtailed: make(map[string]time.Time),
	}, nil
}

// SetNow overrides the orchestrator clock.
func (o *Orchestrator) SetNow(now func() time.Time) { o.now = now }

// RegisterUnit adds or replaces a controllable unit in the fleet registry.
func (o *Orchestrator) RegisterUnit(u model.Unit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.units[u.ID] = u
	o.mu.Unlock()
	return nil
}

// Units returns a copy of the fleet registry, ordered by unit ID.
func (o *Orchestrator) Units() []model.Unit {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.Unit, 0, len(o.units))
	for _, u := range o.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ingest validates an inbound signal notice and creates the event in pending
// state. Duplicate references and inverted windows are rejected with a
// ValidationError.
func (o *Orchestrator) Ingest(n SignalNotice) (*model.DREvent, error) {
	if n.Reference == "" {
		return nil, &ValidationError{Reference: n.Reference, Reason: "empty event reference"}
	}
	if !n.Start.Before(n.End) {
		return nil, &ValidationError{Reference: n.Reference, Reason: "event start must precede end"}
	}
	target := n.TargetKW
	if target <= 0 {
		if n.Level <= 0 {
			return nil, &ValidationError{Reference: n.Reference, Reason: "no target and no signal level"}
		}
		target = float64(n.Level) * o.cfg.LevelStepKW
	}
	now := o.now()
	ev := &model.DREvent{
		Reference: n.Reference,
		Type:      n.Type,
		Level:     n.Level,
		TargetKW:  target,
		Start:     n.Start,
		End:       n.End,
		Status:    model.StatusPending,
		Priority:  n.Priority,
		TestEvent: n.Test,
		CreatedAt: now,
		UpdatedAt: now,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.events[n.Reference]; dup {
		return nil, &ValidationError{Reference: n.Reference, Reason: "duplicate event reference"}
	}
	o.events[n.Reference] = &eventState{
		ev:           ev,
		participants: make(map[string]*model.Participant),
		planned:      make(map[model.ActionKey]bool),
		attempted:    make(map[string]bool),
	}
	eventsIngested.WithLabelValues(ev.Type.String()).Inc()
	o.log.Infof("event %s ingested: %s level %d, target %.1f kW, %s to %s",
		ev.Reference, ev.Type, ev.Level, ev.TargetKW, ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))
	cp := *ev
	return &cp, nil
}

// EnrollParticipant enrolls a home in the event with an explicit opt-in
// choice and reduction target. There is one participant per (event, home);
// re-enrollment is rejected.
func (o *Orchestrator) EnrollParticipant(ctx context.Context, ref, homeID string, optedIn bool, targetKW float64) error {
	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok {
		o.mu.Unlock()
		return &ValidationError{Reference: ref, Reason: "unknown event"}
	}
	if _, dup := st.participants[homeID]; dup {
		o.mu.Unlock()
		return &ValidationError{Reference: ref, Reason: fmt.Sprintf("home %s already enrolled", homeID)}
	}
	ev := *st.ev
	o.mu.Unlock()

	p := o.newParticipant(ctx, &ev, homeID)
	p.OptedIn = optedIn
	p.ReductionTargetKW = targetKW

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := st.participants[homeID]; dup {
		return &ValidationError{Reference: ref, Reason: fmt.Sprintf("home %s already enrolled", homeID)}
	}
	st.participants[homeID] = p
	return nil
}

// newParticipant builds a participant with the baseline captured from the
// telemetry history, when one can be formed.
func (o *Orchestrator) newParticipant(ctx context.Context, ev *model.DREvent, homeID string) *model.Participant {
	p := &model.Participant{
		EventRef:   ev.Reference,
		HomeID:     homeID,
		OptedIn:    true,
		EnrolledAt: o.now(),
	}
	if o.history != nil {
		kw, ok, err := o.history.BaselineKW(ctx, homeID, ev.Start)
		if err != nil {
			o.log.Warnf("baseline lookup failed for home %s: %v", homeID, err)
		} else if ok {
			b := kw
			p.BaselineKW = &b
		}
	}
	return p
}

// Cancel moves a pending or active event to cancelled and aborts any
// in-flight dispatch for it. Already-issued commands are not reversed here;
// the completion path issues the best-effort release pass.
func (o *Orchestrator) Cancel(ref, by string) error {
	o.mu.Lock()
	st, ok := o.events[ref]
	if !ok {
		o.mu.Unlock()
		return &ValidationError{Reference: ref, Reason: "unknown event"}
	}
	from := st.ev.Status
	if err := st.ev.Transition(model.StatusCancelled, o.now()); err != nil {
		o.mu.Unlock()
		return err
	}
	cancelCycle := st.cancelCycle
	o.mu.Unlock()

	if cancelCycle != nil {
		cancelCycle()
	}
	o.dispatcher.ReleaseEvent(ref)
	o.publishTransition(ref, from, model.StatusCancelled)
	o.log.Infof("event %s cancelled by %s", ref, by)
	return nil
}

// Event returns a copy of the event, if known.
func (o *Orchestrator) Event(ref string) (model.DREvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.events[ref]
	if !ok {
		return model.DREvent{}, false
	}
	return *st.ev, true
}

// Participants returns copies of the event's participants, ordered by home.
func (o *Orchestrator) Participants(ref string) []model.Participant {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.events[ref]
	if !ok {
		return nil
	}
	out := make([]model.Participant, 0, len(st.participants))
	for _, p := range st.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HomeID < out[j].HomeID })
	return out
}

func (o *Orchestrator) publishTransition(ref string, from, to model.EventStatus) {
	eventsTransitioned.WithLabelValues(to.String()).Inc()
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.TransitionEvent{EventRef: ref, From: from, To: to, At: o.now()})
}
