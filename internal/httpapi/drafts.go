package httpapi

import (
	"sync"
	"time"

	"apotekita/backend/internal/returns"
)

// draftRegistry holds one return draft per operator. A draft is only touched
// while its session lock is held, so each draft keeps a single writer.
type draftRegistry struct {
	mu       sync.Mutex
	newDraft func() *returns.Draft
	idleTTL  time.Duration
	now      func() time.Time
	sessions map[string]*draftSession
}

type draftSession struct {
	mu       sync.Mutex
	draft    *returns.Draft
	lastUsed time.Time
	// waiting counts owners between the map lookup and mu.Lock. Guarded by
	// the registry lock; the sweep never evicts a waited-on session.
	waiting int
}

func newDraftRegistry(newDraft func() *returns.Draft, idleTTL time.Duration) *draftRegistry {
	if idleTTL <= 0 {
		idleTTL = 2 * time.Hour
	}
	return &draftRegistry{
		newDraft: newDraft,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*draftSession),
	}
}

// acquire locks and returns the owner's session, creating a fresh draft when
// none exists or the previous one sat idle past the TTL. Callers must release.
func (r *draftRegistry) acquire(owner string) *draftSession {
	now := r.now()

	r.mu.Lock()
	r.sweepLocked(owner, now)
	session, ok := r.sessions[owner]
	if !ok {
		session = &draftSession{draft: r.newDraft(), lastUsed: now}
		r.sessions[owner] = session
	}
	session.waiting++
	r.mu.Unlock()

	session.mu.Lock()
	r.mu.Lock()
	session.waiting--
	r.mu.Unlock()

	if now.Sub(session.lastUsed) > r.idleTTL {
		session.draft = r.newDraft()
	}
	session.lastUsed = now
	return session
}

// sweepLocked drops idle sessions of other owners. r.mu must be held.
func (r *draftRegistry) sweepLocked(owner string, now time.Time) {
	for key, session := range r.sessions {
		if key == owner || session.waiting > 0 || !session.mu.TryLock() {
			continue
		}
		if now.Sub(session.lastUsed) > r.idleTTL {
			delete(r.sessions, key)
		}
		session.mu.Unlock()
	}
}

func (s *draftSession) release() {
	s.mu.Unlock()
}
