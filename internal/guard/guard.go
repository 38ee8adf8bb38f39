// Package guard keeps the process-local advisory state that stops duplicate
// work: a per-lead lock held for one orchestrator pass and a per-identifier
// cooldown after a completed enrichment. Nothing here survives a restart.
package guard

import (
	"sync"
	"time"
)

// Token identifies one holder of a lead lock.
type Token uint64

type entry struct {
	exp   time.Time
	owner Token
}

// ttlSet is a mutex-guarded set whose keys expire.
type ttlSet struct {
	mu   sync.Mutex
	keys map[string]entry
	seq  Token
	now  func() time.Time
}

func newTTLSet(now func() time.Time) *ttlSet {
	return &ttlSet{keys: make(map[string]entry), now: now}
}

// tryAdd inserts key if it is absent or expired. It reports whether the key
// was inserted and the token of the new entry.
func (s *ttlSet) tryAdd(key string, ttl time.Duration) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.keys[key]; ok && now.Before(e.exp) {
		return 0, false
	}
	s.seq++
	s.keys[key] = entry{exp: now.Add(ttl), owner: s.seq}
	return s.seq, true
}

func (s *ttlSet) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.keys[key]
	if !ok {
		return false
	}
	if !s.now().Before(e.exp) {
		delete(s.keys, key)
		return false
	}
	return true
}

// removeOwned deletes key only while it still belongs to owner.
func (s *ttlSet) removeOwned(key string, owner Token) {
	s.mu.Lock()
	if e, ok := s.keys[key]; ok && e.owner == owner {
		delete(s.keys, key)
	}
	s.mu.Unlock()
}

// sweep drops expired keys and returns how many live keys remain.
func (s *ttlSet) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.keys {
		if !now.Before(e.exp) {
			delete(s.keys, k)
		}
	}
	return len(s.keys)
}

// Guard combines the lead lock and the identifier cooldown.
type Guard struct {
	locks     *ttlSet
	cooldowns *ttlSet
	lockTTL   time.Duration
	cooldown  time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithNow replaces the clock used for expiry.
func WithNow(now func() time.Time) Option {
	return func(g *Guard) {
		g.locks.now = now
		g.cooldowns.now = now
	}
}

// New creates a Guard. lockTTL bounds how long a crashed pass can hold a lead
// lock; cooldown is how long a completed identifier is skipped.
func New(lockTTL, cooldown time.Duration, opts ...Option) *Guard {
	g := &Guard{
		locks:     newTTLSet(time.Now),
		cooldowns: newTTLSet(time.Now),
		lockTTL:   lockTTL,
		cooldown:  cooldown,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// TryAcquire takes the lock for leadID. It returns false when another pass
// already holds it. The token must be handed back to Release.
func (g *Guard) TryAcquire(leadID string) (Token, bool) {
	return g.locks.tryAdd(leadID, g.lockTTL)
}

// Release drops the lock for leadID if tok still owns it. A lock that
// expired and was taken by another pass is left alone.
func (g *Guard) Release(leadID string, tok Token) {
	g.locks.removeOwned(leadID, tok)
}

// IsCoolingDown reports whether taxID completed enrichment within the
// cooldown window.
func (g *Guard) IsCoolingDown(taxID string) bool {
	return g.cooldowns.contains(taxID)
}

// MarkCooldown starts the cooldown window for taxID. It returns false when a
// window was already running, leaving that window unchanged.
func (g *Guard) MarkCooldown(taxID string) bool {
	_, ok := g.cooldowns.tryAdd(taxID, g.cooldown)
	return ok
}

// Held returns the number of live lead locks.
func (g *Guard) Held() int {
	return g.locks.sweep()
}

// Sweep drops expired entries from both caches.
func (g *Guard) Sweep() {
	g.locks.sweep()
	g.cooldowns.sweep()
}
