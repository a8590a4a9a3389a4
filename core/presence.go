package core

import (
	"maps"
	"slices"

	expmaps "golang.org/x/exp/maps"
	"sync"
	"time"
)

// Presence tracks which users currently hold a bound connection and, for
// everyone who has been online before, when they were last seen. A user id is
// never in the online set and the last-seen map at the same time.
//
// State is process-local; every connected client receives the full snapshot
// on each change. That full-state broadcast is the scaling ceiling of a
// single-node deployment.
type Presence struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewPresence() *Presence {
	return &Presence{
		online:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetOnline marks the user online and drops any last-seen record.
func (p *Presence) SetOnline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = struct{}{}
	delete(p.lastSeen, userID)
}

// SetOffline removes the user from the online set and records the current
// time as their last-seen timestamp.
func (p *Presence) SetOffline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	p.lastSeen[userID] = p.now()
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Snapshot returns the sorted online id list and a copy of the last-seen map.
func (p *Presence) Snapshot() ([]string, map[string]time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	online := expmaps.Keys(p.online)
	slices.Sort(online)
	lastSeen := maps.Clone(p.lastSeen)
	return online, lastSeen
}
