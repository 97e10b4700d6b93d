package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// Logout reasons attached to session events
const (
	ReasonLogin        = "login"
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
	ReasonInvalidState = "invalid_persisted_state"
)

// Store owns the authenticated session and is its only writer
// ARCHITECTURAL DISCOVERY: writeMu serializes every transition together with
// its notifications, so listeners observe transitions in the order they happen
type Store struct {
	persistence interfaces.SessionPersistence
	metrics     interfaces.MetricsRecorder

	mu      sync.RWMutex // guards current
	current types.Session

	writeMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      uint64
}

type listenerEntry struct {
	id uint64
	fn interfaces.SessionListener
}

// NewStore creates a session store over the given persistence backend
func NewStore(persistence interfaces.SessionPersistence, metrics interfaces.MetricsRecorder) *Store {
	if metrics == nil {
		metrics = interfaces.NoopMetrics{}
	}
	return &Store{
		persistence: persistence,
		metrics:     metrics,
	}
}

// Load rehydrates in-memory state from persistence. An inconsistent triple
// (token without role, unknown role) is treated as absent and cleared.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	persisted, err := s.persistence.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %v", ErrPersistenceFailed, err)
	}

	if err := persisted.Validate(); err != nil {
		log.Printf("Discarding persisted session: %v", err)
		if err := s.persistence.ClearSession(ctx); err != nil {
			return fmt.Errorf("%w: clear invalid state: %v", ErrPersistenceFailed, err)
		}
		persisted = types.Session{}
		s.metrics.ObserveSessionTransition(string(types.SessionLogout), ReasonInvalidState)
	}

	s.mu.Lock()
	s.current = persisted
	s.mu.Unlock()

	if persisted.IsAuthenticated() {
		log.Printf("Session rehydrated for role %s", persisted.Role)
	}
	return nil
}

// CurrentSession returns the in-memory session
func (s *Store) CurrentSession() types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// WhileCurrent runs fn only while token is the current credential. A
// teardown waits for a running fn, so nothing fn does can follow the
// teardown. fn must not call back into the store.
func (s *Store) WhileCurrent(token string, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" || s.current.Token != token {
		return false
	}
	fn()
	return true
}

// Login persists the triple, then swaps in-memory state and notifies.
// A persistence failure leaves the previous session untouched.
func (s *Store) Login(ctx context.Context, token string, role types.Role, facilityID string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.ErrMissingToken
	}
	if !types.IsValidRole(role) {
		return fmt.Errorf("%w: %q", types.ErrInvalidRole, role)
	}

	session := types.Session{Token: token, Role: role, FacilityID: strings.TrimSpace(facilityID)}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persistence.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("%w: save: %v", ErrPersistenceFailed, err)
	}

	s.mu.Lock()
	s.current = session
	s.mu.Unlock()

	log.Printf("Session established for role %s", role)
	s.metrics.ObserveSessionTransition(string(types.SessionLogin), ReasonLogin)
	s.notify(types.SessionEvent{Kind: types.SessionLogin, Session: session, Reason: ReasonLogin})
	return nil
}

// Logout clears persisted and in-memory state. Logging out of an absent
// session clears storage but emits no notification.
func (s *Store) Logout(ctx context.Context) error {
	_, err := s.clear(ctx, ReasonLogout, func(types.Session) bool { return true })
	return err
}

// Teardown clears the session only if it still carries token. Concurrent
// rejections of the same credential therefore produce one transition.
func (s *Store) Teardown(ctx context.Context, token string, reason string) (bool, error) {
	if token == "" {
		return false, nil
	}
	if reason == "" {
		reason = ReasonUnauthorized
	}
	// The credential is already rejected; clearing must not depend on the request's lifetime
	return s.clear(context.WithoutCancel(ctx), reason, func(cur types.Session) bool {
		return cur.Token == token
	})
}

// clear is the single mutation entry point for every teardown path
func (s *Store) clear(ctx context.Context, reason string, match func(types.Session) bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	previous := s.CurrentSession()
	if !match(previous) {
		return false, nil
	}

	persistErr := s.persistence.ClearSession(ctx)
	if persistErr != nil {
		log.Printf("Failed to clear persisted session (%s): %v", reason, persistErr)
		persistErr = fmt.Errorf("%w: clear: %v", ErrPersistenceFailed, persistErr)
	}

	if !previous.IsAuthenticated() {
		return false, persistErr
	}

	// FUNCTIONAL DISCOVERY: Memory is cleared even when storage fails so no
	// caller keeps acting on a credential that has been torn down
	s.mu.Lock()
	s.current = types.Session{}
	s.mu.Unlock()

	log.Printf("Session ended (%s)", reason)
	s.metrics.ObserveSessionTransition(string(types.SessionLogout), reason)
	s.notify(types.SessionEvent{Kind: types.SessionLogout, Session: previous, Reason: reason})
	return true, persistErr
}

// Subscribe registers listener for every login/logout transition
func (s *Store) Subscribe(listener interfaces.SessionListener) func() {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: listener})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, entry := range s.listeners {
				if entry.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount returns the number of registered listeners
func (s *Store) ListenerCount() int {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	return len(s.listeners)
}

// notify calls listeners in registration order on the mutating goroutine
func (s *Store) notify(event types.SessionEvent) {
	s.listenersMu.Lock()
	snapshot := make([]listenerEntry, len(s.listeners))
	copy(snapshot, s.listeners)
	s.listenersMu.Unlock()

	for _, entry := range snapshot {
		entry.fn(event)
	}
}
