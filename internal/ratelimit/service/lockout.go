package service

import (
	"strings"
	"sync"
	"time"
)

// lockoutList tracks per-key penalty expirations. A key under lockout is
// denied before strategy evaluation, so a rolled strategy window cannot
// readmit it while the penalty is still running.
type lockoutList struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newLockoutList() *lockoutList {
	return &lockoutList{until: make(map[string]time.Time)}
}

// Active reports whether key is locked out at now. Expired entries are
// dropped on read.
func (l *lockoutList) Active(key string, now time.Time) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.until[key]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(l.until, key)
		return time.Time{}, false
	}
	return until, true
}

// Set records a lockout for key lasting until the given time.
func (l *lockoutList) Set(key string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.until[key] = until
}

// ClearPrefix drops lockouts whose key starts with prefix. An empty prefix
// drops everything.
func (l *lockoutList) ClearPrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.until {
		if strings.HasPrefix(key, prefix) {
			delete(l.until, key)
		}
	}
}
