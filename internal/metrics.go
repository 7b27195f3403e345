package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"flashchat/internal/snaps"
)

type Metrics struct {
	signups       atomic.Uint64
	logins        atomic.Uint64
	guests        atomic.Uint64
	snapsSent     atomic.Uint64
	snapsViewed   atomic.Uint64
	alreadyViewed atomic.Uint64
	snapsRemoved  atomic.Uint64
	snapsSwept    atomic.Uint64
	roomsCreated  atomic.Uint64
	activeConns   atomic.Int64

	presence *PresenceTracker
}

func NewMetrics(presence *PresenceTracker) *Metrics {
	return &Metrics{presence: presence}
}

func (m *Metrics) IncSignup() {
	m.signups.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncGuest() {
	m.guests.Add(1)
}

func (m *Metrics) IncSent() {
	m.snapsSent.Add(1)
}

func (m *Metrics) IncRoomCreated() {
	m.roomsCreated.Add(1)
}

// ObserveOutcome counts one Act result.
func (m *Metrics) ObserveOutcome(effect snaps.Effect) {
	switch effect {
	case snaps.EffectViewing:
		m.snapsViewed.Add(1)
	case snaps.EffectAlreadyViewed:
		m.alreadyViewed.Add(1)
	case snaps.EffectRemoved:
		m.snapsRemoved.Add(1)
	}
}

// AddSwept counts snaps removed by the background sweep.
func (m *Metrics) AddSwept(n int) {
	if n > 0 {
		m.snapsSwept.Add(uint64(n))
	}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"signups_total":        m.signups.Load(),
		"logins_total":         m.logins.Load(),
		"guest_signins_total":  m.guests.Load(),
		"snaps_sent_total":     m.snapsSent.Load(),
		"snaps_viewed_total":   m.snapsViewed.Load(),
		"already_viewed_total": m.alreadyViewed.Load(),
		"snaps_removed_total":  m.snapsRemoved.Load(),
		"snaps_swept_total":    m.snapsSwept.Load(),
		"rooms_created_total":  m.roomsCreated.Load(),
		"active_connections":   m.activeConns.Load(),
	}
	if m.presence != nil {
		payload["online_identities"] = m.presence.ActiveCount()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
