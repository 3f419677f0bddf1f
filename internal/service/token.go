package service

import (
	"sync"
	"time"
)

// frameToken allows one frame round trip at a time. A held token that is
// older than timeout can be taken over so a lost reply never stalls capture.
type frameToken struct {
	mu      sync.Mutex
	held    bool
	since   time.Time
	timeout time.Duration
}

func newFrameToken(timeout time.Duration) *frameToken {
	return &frameToken{timeout: timeout}
}

// acquire takes the token. expired is true when a stale token was reclaimed.
func (t *frameToken) acquire(now time.Time) (ok, expired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.held {
		if t.timeout <= 0 || now.Sub(t.since) < t.timeout {
			return false, false
		}
		expired = true
	}
	t.held = true
	t.since = now
	return true, expired
}

// release frees the token and returns how long it was held.
func (t *frameToken) release(now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.held {
		return 0, false
	}
	t.held = false
	return now.Sub(t.since), true
}

func (t *frameToken) reset() {
	t.mu.Lock()
	t.held = false
	t.mu.Unlock()
}
