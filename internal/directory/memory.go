package directory

import (
	"context"
	"fmt"
	"sync"

	"sotto/internal/domain"
)

// Memory is an in-process key directory. Each Fetch serves at most one
// one-time pre-key from the published pool and retires it, mirroring a real
// directory's serve-once behaviour.
type Memory struct {
	mu      sync.Mutex
	bundles map[domain.ParticipantID]domain.PreKeyBundle
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{bundles: make(map[domain.ParticipantID]domain.PreKeyBundle)}
}

// Publish stores the bundle, replacing any previous one for the participant.
func (m *Memory) Publish(ctx context.Context, bundle domain.PreKeyBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[bundle.ParticipantID] = bundle
	return nil
}

// Fetch returns the participant's bundle with at most one one-time pre-key.
func (m *Memory) Fetch(ctx context.Context, participant domain.ParticipantID) (domain.PreKeyBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bundles[participant]
	if !ok {
		return domain.PreKeyBundle{}, fmt.Errorf("directory: no bundle for %q", participant)
	}
	out := b
	out.OneTimePreKeys = nil
	if len(b.OneTimePreKeys) > 0 {
		out.OneTimePreKeys = []domain.OneTimePreKeyPublic{b.OneTimePreKeys[0]}
		b.OneTimePreKeys = b.OneTimePreKeys[1:]
		m.bundles[participant] = b
	}
	return out, nil
}

// RemainingOneTimePreKeys reports the unserved pool size for a participant.
func (m *Memory) RemainingOneTimePreKeys(participant domain.ParticipantID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bundles[participant].OneTimePreKeys)
}

// MemoryExchange routes key-exchange messages to per-participant inboxes.
type MemoryExchange struct {
	mu      sync.Mutex
	inboxes map[domain.ParticipantID][]domain.KeyExchangeMessage
}

// NewMemoryExchange returns an empty in-memory key-exchange channel.
func NewMemoryExchange() *MemoryExchange {
	return &MemoryExchange{inboxes: make(map[domain.ParticipantID][]domain.KeyExchangeMessage)}
}

// Send queues msg for the recipient.
func (e *MemoryExchange) Send(ctx context.Context, to domain.ParticipantID, msg domain.KeyExchangeMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inboxes[to] = append(e.inboxes[to], msg)
	return nil
}

// Drain returns and clears the recipient's queued messages.
func (e *MemoryExchange) Drain(participant domain.ParticipantID) []domain.KeyExchangeMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	msgs := e.inboxes[participant]
	e.inboxes[participant] = nil
	return msgs
}

// Compile-time assertions.
var (
	_ domain.Directory   = (*Memory)(nil)
	_ domain.KeyExchange = (*MemoryExchange)(nil)
)
