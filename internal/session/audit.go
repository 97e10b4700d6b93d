package session

import (
	"context"
	"log"
	"sync"
	"time"

	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

const auditWriteTimeout = 5 * time.Second

// AuditTrail records every session transition to an audit log.
// Listeners run under the store's write lock, so entries are queued and
// written by a single background goroutine.
type AuditTrail struct {
	log   interfaces.SessionAuditLog
	now   func() time.Time
	queue chan types.SessionAuditEntry

	mu     sync.Mutex
	closed bool

	unsubscribe func()
	stopOnce    sync.Once
	done        chan struct{}
}

// NewAuditTrail subscribes to notifier and starts the writer
func NewAuditTrail(notifier interfaces.SessionNotifier, auditLog interfaces.SessionAuditLog) *AuditTrail {
	a := &AuditTrail{
		log:   auditLog,
		now:   time.Now,
		queue: make(chan types.SessionAuditEntry, 64),
		done:  make(chan struct{}),
	}
	go a.run()
	a.unsubscribe = notifier.Subscribe(a.enqueue)
	return a
}

func (a *AuditTrail) enqueue(event types.SessionEvent) {
	entry := types.SessionAuditEntry{
		Kind:       event.Kind,
		Role:       event.Session.Role,
		FacilityID: event.Session.FacilityID,
		Reason:     event.Reason,
		OccurredAt: a.now().UTC(),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- entry:
	default:
		log.Printf("Session audit: queue full, dropping %s entry", entry.Kind)
	}
}

func (a *AuditTrail) run() {
	defer close(a.done)
	for entry := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := a.log.RecordEvent(ctx, entry); err != nil {
			log.Printf("Session audit: failed to record %s: %v", entry.Kind, err)
		}
		cancel()
	}
}

// Stop unsubscribes and flushes queued entries
func (a *AuditTrail) Stop() {
	a.stopOnce.Do(func() {
		a.unsubscribe()
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		<-a.done
	})
}
