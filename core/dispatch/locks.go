package dispatch

import "sync"

// unitLocks serializes command ownership per unit. A unit committed to one
// event's action stays locked to that event until the event releases it, so
// two concurrent events never issue conflicting commands to the same unit.
type unitLocks struct {
	mu    sync.Mutex
	owner map[string]string // unit ID -> owning event reference
}

func newUnitLocks() *unitLocks {
	return &unitLocks{owner: make(map[string]string)}
}

// acquire claims the unit for the event. It succeeds when the unit is free or
// already owned by the same event.
func (l *unitLocks) acquire(unitID, eventRef string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	own, held := l.owner[unitID]
	if held && own != eventRef {
		return false
	}
	l.owner[unitID] = eventRef
	return true
}

// ownedBy returns the event currently holding the unit, if any.
func (l *unitLocks) ownedBy(unitID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref, ok := l.owner[unitID]
	return ref, ok
}

// releaseEvent frees every unit held by the event.
func (l *unitLocks) releaseEvent(eventRef string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ref := range l.owner {
		if ref == eventRef {
			delete(l.owner, id)
		}
	}
}

// busyFor returns the units held by events other than eventRef. Planners skip
// those for the current cycle.
func (l *unitLocks) busyFor(eventRef string) map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	busy := make(map[string]bool)
	for id, ref := range l.owner {
		if ref != eventRef {
			busy[id] = true
		}
	}
	return busy
}
