package internal

import "sync"

// PresenceTracker keeps counts of open room streams per identity.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]int)}
}

func (p *PresenceTracker) Increment(identityID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[identityID]++
	return p.online[identityID]
}

func (p *PresenceTracker) Decrement(identityID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.online[identityID]
	if !ok {
		return 0
	}
	if count <= 1 {
		delete(p.online, identityID)
		return 0
	}
	p.online[identityID] = count - 1
	return p.online[identityID]
}

func (p *PresenceTracker) Online(identityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[identityID] > 0
}

func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
