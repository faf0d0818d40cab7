// Package ratelimit budgets MCP tool calls with per-key token buckets.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrLimited is wrapped by the error Check returns for a tool over budget.
var ErrLimited = errors.New("rate limit exceeded")

// Budget is a sustained call rate plus the burst a fresh bucket starts with.
type Budget struct {
	PerMinute float64
	Burst     int
}

// DefaultBudgets are the per-tool budgets used by the MCP server. Runs and
// comparisons are CPU bound; the store queries are cheap.
var DefaultBudgets = map[string]Budget{
	"transitsim_run":     {PerMinute: 10, Burst: 3},
	"transitsim_compare": {PerMinute: 2, Burst: 1},
	"transitsim_runs":    {PerMinute: 60, Burst: 10},
	"transitsim_events":  {PerMinute: 60, Burst: 10},
}

// Limiter holds one token bucket per key. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	budget  Budget
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewLimiter returns a limiter applying b to every key.
func NewLimiter(b Budget) *Limiter {
	return &Limiter{
		budget:  b,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) perSecond() float64 {
	return l.budget.PerMinute / 60
}

// Reserve takes a token for key. When none is available it reports false
// and how long until one will be. A zero-rate limiter never refills, so the
// wait is then the maximum duration.
func (l *Limiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.budget.Burst), seen: now}
		l.buckets[key] = b
	}

	if dt := now.Sub(b.seen).Seconds(); dt > 0 {
		b.tokens = math.Min(float64(l.budget.Burst), b.tokens+dt*l.perSecond())
		b.seen = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	rate := l.perSecond()
	if rate <= 0 {
		return false, time.Duration(math.MaxInt64)
	}
	return false, time.Duration((1 - b.tokens) / rate * float64(time.Second))
}

// Allow reports whether key may proceed, taking a token if so.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Reserve(key)
	return ok
}

// ToolLimiters maps tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters builds one limiter per budget entry.
func NewToolLimiters(budgets map[string]Budget) ToolLimiters {
	tl := make(ToolLimiters, len(budgets))
	for tool, b := range budgets {
		tl[tool] = NewLimiter(b)
	}
	return tl
}

// Check takes a token for tool. Tools without a limiter are unlimited.
func (tl ToolLimiters) Check(tool string) error {
	l, ok := tl[tool]
	if !ok {
		return nil
	}
	ok, wait := l.Reserve(tool)
	if ok {
		return nil
	}
	if wait == time.Duration(math.MaxInt64) {
		return fmt.Errorf("%w for %s", ErrLimited, tool)
	}
	return fmt.Errorf("%w for %s, retry in %s", ErrLimited, tool, wait.Round(time.Second))
}
