package interfaces

import (
	"context"

	"airamed/pkg/types"
)

// SessionListener receives every login/logout transition synchronously.
// Listeners must not call Login, Logout or Teardown themselves.
type SessionListener func(event types.SessionEvent)

// SessionReader is the read side of the session owner
type SessionReader interface {
	// CurrentSession returns the in-memory session, rehydrated at startup
	CurrentSession() types.Session
}

// SessionGate ties work to one credential
type SessionGate interface {
	// WhileCurrent runs fn only while token is current; a teardown waits
	// for fn to return
	WhileCurrent(token string, fn func()) bool
}

// SessionNotifier lets components register for session transitions
type SessionNotifier interface {
	// Subscribe registers listener and returns its unsubscribe handle
	Subscribe(listener SessionListener) (unsubscribe func())
}

// SessionTeardown is the only mutation the transport layer may perform.
// ARCHITECTURAL DISCOVERY: Transport holds this narrow handle instead of the
// persistence layer so the session store stays the single writer
type SessionTeardown interface {
	// Teardown clears the session only if it still carries token and
	// reports whether a transition happened
	Teardown(ctx context.Context, token string, reason string) (bool, error)
}

// SessionStore owns the authenticated session
type SessionStore interface {
	SessionReader
	SessionNotifier
	SessionTeardown

	// Login writes token, role and facility as one unit, then notifies
	Login(ctx context.Context, token string, role types.Role, facilityID string) error

	// Logout clears persisted and in-memory state, then notifies
	Logout(ctx context.Context) error
}
