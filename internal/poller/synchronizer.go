package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// DefaultInterval replaces a non-positive poll interval
const DefaultInterval = 5 * time.Second

// Poll outcomes reported to the metrics recorder
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
	OutcomeStopped = "stopped"
)

// Result is one delivered poll cycle
type Result[T any] struct {
	Seq      uint64
	Value    T
	Err      error
	IssuedAt time.Time
}

// Options configures a Synchronizer
type Options struct {
	Clock    Clock
	Metrics  interfaces.MetricsRecorder
	Notifier interfaces.SessionNotifier
}

// Synchronizer runs recurring fetches, one independent timer per subscription
// ARCHITECTURAL DISCOVERY: Every subscription registers for session
// notifications and stops itself on logout, so teardown never depends on the
// owning view noticing
type Synchronizer struct {
	clock    Clock
	metrics  interfaces.MetricsRecorder
	notifier interfaces.SessionNotifier

	mu   sync.Mutex
	subs map[string]*Handle
}

// New creates a synchronizer
func New(opts Options) *Synchronizer {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = interfaces.NoopMetrics{}
	}
	return &Synchronizer{
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		subs:     make(map[string]*Handle),
	}
}

// Handle controls one subscription
type Handle struct {
	id    string
	name  string
	stop  func()
	once  sync.Once
	owner *Synchronizer

	unsubMu     sync.Mutex
	unsubscribe func()
}

// ID returns the subscription identifier
func (h *Handle) ID() string { return h.id }

// Name returns the label given at Start
func (h *Handle) Name() string { return h.name }

// Stop cancels all future invocations. Once Stop returns, onResult is never
// called again for this handle. Idempotent; must not be called from inside
// the subscription's own onResult.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.stop()
		h.unsubMu.Lock()
		unsubscribe := h.unsubscribe
		h.unsubMu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		h.owner.mu.Lock()
		delete(h.owner.subs, h.id)
		h.owner.mu.Unlock()
	})
}

type subscription[T any] struct {
	name     string
	fetch    func(ctx context.Context) (T, error)
	onResult func(Result[T])
	owner    *Synchronizer
	ctx      context.Context

	mu        sync.Mutex
	issued    uint64
	delivered uint64
	stopped   bool
}

// Start invokes fetch immediately and then every interval measured from the
// previous scheduling, without waiting for slow responses. onResult receives
// results in strictly increasing issuance order; a result completing after a
// newer one was delivered is discarded. An interval of zero or less runs at
// DefaultInterval.
func Start[T any](s *Synchronizer, name string, interval time.Duration, fetch func(ctx context.Context) (T, error), onResult func(Result[T])) *Handle {
	if interval <= 0 {
		log.Printf("Poller %s: interval %v is not positive, using %v", name, interval, DefaultInterval)
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription[T]{
		name:     name,
		fetch:    fetch,
		onResult: onResult,
		owner:    s,
		ctx:      ctx,
	}

	handle := &Handle{
		id:    uuid.NewString(),
		name:  name,
		owner: s,
		stop: func() {
			sub.mu.Lock()
			sub.stopped = true
			sub.mu.Unlock()
			cancel()
		},
	}

	s.mu.Lock()
	s.subs[handle.id] = handle
	s.mu.Unlock()

	if s.notifier != nil {
		handle.unsubMu.Lock()
		handle.unsubscribe = s.notifier.Subscribe(func(event types.SessionEvent) {
			if event.Kind == types.SessionLogout {
				handle.Stop()
			}
		})
		handle.unsubMu.Unlock()
	}

	ticker := s.clock.NewTicker(interval)
	sub.issue()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				sub.issue()
			}
		}
	}()

	return handle
}

// issue starts one poll cycle without waiting for the previous one
func (sub *subscription[T]) issue() {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	sub.issued++
	seq := sub.issued
	sub.mu.Unlock()

	issuedAt := sub.owner.clock.Now()
	go func() {
		value, err := sub.fetch(sub.ctx)
		sub.deliver(Result[T]{Seq: seq, Value: value, Err: err, IssuedAt: issuedAt})
	}()
}

func (sub *subscription[T]) deliver(result Result[T]) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.stopped {
		sub.owner.metrics.ObservePoll(sub.name, OutcomeStopped)
		return
	}
	if result.Seq <= sub.delivered {
		log.Printf("Poller %s: discarding stale result #%d (delivered #%d)", sub.name, result.Seq, sub.delivered)
		sub.owner.metrics.ObservePoll(sub.name, OutcomeStale)
		return
	}
	sub.delivered = result.Seq

	if result.Err != nil {
		sub.owner.metrics.ObservePoll(sub.name, OutcomeFailure)
	} else {
		sub.owner.metrics.ObservePoll(sub.name, OutcomeSuccess)
	}
	sub.onResult(result)
}

// Active returns the number of running subscriptions
func (s *Synchronizer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// StopAll stops every running subscription
func (s *Synchronizer) StopAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.subs))
	for _, h := range s.subs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}
