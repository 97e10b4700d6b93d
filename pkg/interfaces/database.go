package interfaces

import (
	"context"

	"airamed/pkg/types"
)

// SessionPersistence stores the client session across process restarts
// ARCHITECTURAL DISCOVERY: Three independent entries (token, role,
// facility_id) are written and cleared as one unit by every implementation
type SessionPersistence interface {
	// SaveSession replaces all three entries atomically
	SaveSession(ctx context.Context, session types.Session) error

	// LoadSession returns the persisted session, or a zero session when none exists
	LoadSession(ctx context.Context) (types.Session, error)

	// ClearSession removes all three entries atomically
	ClearSession(ctx context.Context) error

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the backing store
	Close() error
}

// SessionAuditLog keeps a bounded history of session transitions
type SessionAuditLog interface {
	// RecordEvent appends one transition
	RecordEvent(ctx context.Context, entry types.SessionAuditEntry) error

	// RecentEvents returns up to limit entries, newest first
	RecentEvents(ctx context.Context, limit int) ([]types.SessionAuditEntry, error)
}
