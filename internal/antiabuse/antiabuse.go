package antiabuse

import (
	"context"
	"sync"
	"time"
)

// Rule is a sliding-window cap: at most Limit calls per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules covers the money-moving actions. Plays are throttled to
// human speed, settlement actions much harder.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"play":     {Limit: 10, Window: time.Second},
		"duel":     {Limit: 5, Window: time.Second},
		"withdraw": {Limit: 3, Window: time.Minute},
		"deposit":  {Limit: 10, Window: time.Minute},
		"promo":    {Limit: 5, Window: time.Minute},
	}
}

type key struct {
	userID int64
	action string
}

// Limiter enforces per-user, per-action sliding windows. State is
// process-local; a restart forgives everyone.
type Limiter struct {
	rules map[string]Rule

	mu      sync.Mutex
	history map[key][]time.Time
	now     func() time.Time
}

func NewLimiter(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		history: make(map[key][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether userID may perform action now, recording the
// attempt if so. Actions without a rule are always allowed.
func (l *Limiter) Allow(userID int64, action string) bool {
	rule, ok := l.rules[action]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{userID: userID, action: action}
	cutoff := now.Add(-rule.Window)

	kept := l.history[k][:0]
	for _, ts := range l.history[k] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= rule.Limit {
		l.history[k] = kept
		return false
	}
	l.history[k] = append(kept, now)
	return true
}

// Prune drops windows that have fully expired. Run it periodically so
// idle users do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, timestamps := range l.history {
		rule, ok := l.rules[k.action]
		if !ok {
			delete(l.history, k)
			continue
		}
		cutoff := now.Add(-rule.Window)
		alive := false
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(l.history, k)
		}
	}
}

// RunPruner prunes on the given interval until ctx is cancelled.
func (l *Limiter) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
