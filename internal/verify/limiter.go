package verify

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiter rate limits escalations per claim type, so one noisy claim type
// cannot starve the external judges of the others.
type limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

func newLimiter(perSecond float64, burst int) *limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Allow reports whether an escalation for key may start now
func (l *limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *limiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[key] = lim
	return lim
}
