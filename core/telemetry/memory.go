package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider serves snapshots and history from in-memory samples. It backs
// unit tests and the mock run mode.
type MemoryProvider struct {
	mu        sync.RWMutex
	readings  map[string]Reading
	homeMeans map[string]float64
	baselines map[string]float64
	now       func() time.Time
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		readings:  make(map[string]Reading),
		homeMeans: make(map[string]float64),
		baselines: make(map[string]float64),
		now:       time.Now,
	}
}

// SetNow overrides the clock used to stamp snapshots.
func (p *MemoryProvider) SetNow(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// SetReading records the current sample for a unit.
func (p *MemoryProvider) SetReading(r Reading) {
	p.mu.Lock()
	p.readings[r.UnitID] = r
	p.mu.Unlock()
}

// SetHomeMean fixes the answer to MeanPowerKW for a home.
func (p *MemoryProvider) SetHomeMean(homeID string, kw float64) {
	p.mu.Lock()
	p.homeMeans[homeID] = kw
	p.mu.Unlock()
}

// SetBaseline fixes the answer to BaselineKW for a home.
func (p *MemoryProvider) SetBaseline(homeID string, kw float64) {
	p.mu.Lock()
	p.baselines[homeID] = kw
	p.mu.Unlock()
}

// ClearBaseline removes the stored baseline for a home.
func (p *MemoryProvider) ClearBaseline(homeID string) {
	p.mu.Lock()
	delete(p.baselines, homeID)
	p.mu.Unlock()
}

// Snapshot implements Provider.
func (p *MemoryProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make(map[string]Reading, len(p.readings))
	for id, r := range p.readings {
		cp[id] = r
	}
	return Snapshot{Taken: p.now(), Readings: cp}, nil
}

// MeanPowerKW implements HistoryReader.
func (p *MemoryProvider) MeanPowerKW(ctx context.Context, homeID string, start, end time.Time) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	kw, ok := p.homeMeans[homeID]
	if !ok {
		return 0, fmt.Errorf("no samples for home %s in [%s, %s)", homeID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return kw, nil
}

// BaselineKW implements HistoryReader.
func (p *MemoryProvider) BaselineKW(ctx context.Context, homeID string, asOf time.Time) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	kw, ok := p.baselines[homeID]
	return kw, ok, nil
}
