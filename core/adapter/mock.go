package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient records commands in memory and acknowledges them according to
// per-unit programming. Used by unit tests and the mock run mode.
type MockClient struct {
	mu       sync.Mutex
	sends    []Command
	failUnit map[string]bool // Send returns an error
	nackUnit map[string]bool // ack arrives with Success=false
	dropUnit map[string]bool // ack never arrives
	acks     map[string]Ack
	seq      int
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		failUnit: make(map[string]bool),
		nackUnit: make(map[string]bool),
		dropUnit: make(map[string]bool),
		acks:     make(map[string]Ack),
	}
}

// FailSend makes Send return an error for the unit.
func (m *MockClient) FailSend(unitID string) {
	m.mu.Lock()
	m.failUnit[unitID] = true
	m.mu.Unlock()
}

// DropAck makes WaitForAck time out for the unit's commands.
func (m *MockClient) DropAck(unitID string) {
	m.mu.Lock()
	m.dropUnit[unitID] = true
	m.mu.Unlock()
}

// NackUnit makes the unit acknowledge with Success=false.
func (m *MockClient) NackUnit(unitID string) {
	m.mu.Lock()
	m.nackUnit[unitID] = true
	m.mu.Unlock()
}

// Sent returns a copy of all commands passed to Send.
func (m *MockClient) Sent() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.sends...)
}

// SentTo counts commands sent to the unit.
func (m *MockClient) SentTo(unitID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.sends {
		if c.UnitID == unitID {
			n++
		}
	}
	return n
}

// Send implements Client.
func (m *MockClient) Send(ctx context.Context, cmd Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUnit[cmd.UnitID] {
		return "", fmt.Errorf("adapter unreachable for unit %s", cmd.UnitID)
	}
	m.seq++
	id := cmd.CommandID
	if id == "" {
		id = fmt.Sprintf("cmd-%d", m.seq)
	}
	cmd.CommandID = id
	m.sends = append(m.sends, cmd)
	if !m.dropUnit[cmd.UnitID] {
		m.acks[id] = Ack{CommandID: id, Success: !m.nackUnit[cmd.UnitID]}
	}
	return id, nil
}

// WaitForAck implements Client.
func (m *MockClient) WaitForAck(commandID string, timeout time.Duration) (Ack, error) {
	m.mu.Lock()
	ack, ok := m.acks[commandID]
	m.mu.Unlock()
	if !ok {
		return Ack{}, fmt.Errorf("%w", ErrAckTimeout)
	}
	return ack, nil
}
