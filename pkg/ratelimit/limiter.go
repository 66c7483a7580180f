// Package ratelimit implements per-user sliding-window admission control
// with bounded memory. Each user is tracked in two independent fixed
// windows (one minute, one hour); a request is admitted only when both
// windows are under their limits.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// DefaultMaxTrackedUsers caps limiter memory. Eviction runs only when
	// the cap is reached, keeping Allow O(1) amortized.
	DefaultMaxTrackedUsers = 10000
)

type userState struct {
	minute   []time.Time
	hour     []time.Time
	lastSeen time.Time
}

type Limiter struct {
	mu              sync.Mutex
	users           map[string]*userState
	maxPerMinute    int
	maxPerHour      int
	maxTrackedUsers int

	now func() time.Time // test hook
}

func NewLimiter(maxPerMinute, maxPerHour int) *Limiter {
	return &Limiter{
		users:           make(map[string]*userState),
		maxPerMinute:    maxPerMinute,
		maxPerHour:      maxPerHour,
		maxTrackedUsers: DefaultMaxTrackedUsers,
		now:             time.Now,
	}
}

// Allow reports whether a request from userID is admitted, recording the
// request timestamp on success. A user at or above either window's limit
// is rejected; no state is recorded for rejected requests.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.users[userID]
	if !ok {
		if len(l.users) >= l.maxTrackedUsers {
			l.evictLocked(now)
		}
		st = &userState{}
		l.users[userID] = st
	}

	st.minute = prune(st.minute, now, minuteWindow)
	st.hour = prune(st.hour, now, hourWindow)

	if l.maxPerMinute > 0 && len(st.minute) >= l.maxPerMinute {
		return false
	}
	if l.maxPerHour > 0 && len(st.hour) >= l.maxPerHour {
		return false
	}

	st.minute = append(st.minute, now)
	st.hour = append(st.hour, now)
	st.lastSeen = now
	return true
}

// Reset clears the given users, or every tracked user when called with no
// arguments.
func (l *Limiter) Reset(userIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(userIDs) == 0 {
		l.users = make(map[string]*userState)
		return
	}
	for _, id := range userIDs {
		delete(l.users, id)
	}
}

// TrackedUsers returns the number of users currently held in memory.
func (l *Limiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// SetMaxTrackedUsers overrides the tracked-user cap.
func (l *Limiter) SetMaxTrackedUsers(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > 0 {
		l.maxTrackedUsers = n
	}
}

// evictLocked frees tracking slots: first drop users with no activity
// inside the hour window, then, if still at the cap, the oldest half of
// the remainder by last-seen time. Users active within the hour are never
// evicted while genuinely stale users remain.
func (l *Limiter) evictLocked(now time.Time) {
	for id, st := range l.users {
		if now.Sub(st.lastSeen) > hourWindow {
			delete(l.users, id)
		}
	}
	if len(l.users) < l.maxTrackedUsers {
		return
	}

	type entry struct {
		id       string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.users))
	for id, st := range l.users {
		entries = append(entries, entry{id, st.lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})
	for _, e := range entries[:len(entries)/2] {
		delete(l.users, e.id)
	}
}

func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(ts) && now.Sub(ts[cut]) >= window {
		cut++
	}
	if cut == 0 {
		return ts
	}
	return append(ts[:0], ts[cut:]...)
}
