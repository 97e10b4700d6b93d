package websocket

import (
	"sync"
	"time"
)

// Viewer command budget
const (
	commandLimit  = 30
	commandWindow = time.Minute
)

// CommandLimiter caps how many commands each viewer may issue per window
// ARCHITECTURAL DISCOVERY: Per-viewer state is dropped on disconnect, so the
// map never outgrows the set of attached viewers
type CommandLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	viewers map[string]*viewerBudget
}

type viewerBudget struct {
	count       int
	windowStart time.Time
}

// NewCommandLimiter creates a limiter allowing limit commands per window
func NewCommandLimiter(limit int, window time.Duration) *CommandLimiter {
	return &CommandLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		viewers: make(map[string]*viewerBudget),
	}
}

// Allow records one command from viewerID and reports whether it fits the budget
// FUNCTIONAL DISCOVERY: Fixed window reset; the first command of a window is always allowed
func (l *CommandLimiter) Allow(viewerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	budget, exists := l.viewers[viewerID]
	if !exists || now.Sub(budget.windowStart) >= l.window {
		l.viewers[viewerID] = &viewerBudget{count: 1, windowStart: now}
		return true
	}

	if budget.count >= l.limit {
		return false
	}
	budget.count++
	return true
}

// Forget drops the state of a departed viewer
func (l *CommandLimiter) Forget(viewerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.viewers, viewerID)
}

// Tracked returns the number of viewers with live budgets
func (l *CommandLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.viewers)
}
