package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "airamed/pkg/database"
	"airamed/pkg/types"
)

// Manager persists the client session in SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the client-state database and starts the writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 16),
		shutdown:     make(chan struct{}),
		retryDelay:   time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A locked database is retried exactly once
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in %v: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// SaveSession replaces the persisted triple in one transaction
func (m *Manager) SaveSession(ctx context.Context, session types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM client_state`); err != nil {
			return fmt.Errorf("failed to clear previous session: %w", err)
		}

		entries := map[string]string{
			"token":       session.Token,
			"role":        string(session.Role),
			"facility_id": session.FacilityID,
		}
		for key, value := range entries {
			if value == "" {
				continue
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)`,
				key, value, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session: %w", err)
		}
		return nil
	})
}

// LoadSession reads the persisted triple; absent entries stay empty
func (m *Manager) LoadSession(ctx context.Context) (types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	rows, err := m.db.QueryContext(ctx, `SELECT key, value FROM client_state`)
	if err != nil {
		return types.Session{}, fmt.Errorf("failed to query client state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var session types.Session
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return types.Session{}, fmt.Errorf("failed to scan client state: %w", err)
		}
		switch key {
		case "token":
			session.Token = value
		case "role":
			session.Role = types.Role(value)
		case "facility_id":
			session.FacilityID = value
		}
	}
	if err := rows.Err(); err != nil {
		return types.Session{}, fmt.Errorf("error iterating client state: %w", err)
	}

	return session, nil
}

// ClearSession removes every persisted entry in one statement
func (m *Manager) ClearSession(ctx context.Context) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM client_state`); err != nil {
			return fmt.Errorf("failed to clear client state: %w", err)
		}
		return nil
	})
}

// RecordEvent appends a session transition to the audit table
func (m *Manager) RecordEvent(ctx context.Context, entry types.SessionAuditEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO session_events (kind, role, facility_id, reason, occurred_at) VALUES (?, ?, ?, ?, ?)`,
			string(entry.Kind), nullable(string(entry.Role)), nullable(entry.FacilityID),
			nullable(entry.Reason), entry.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record session event: %w", err)
		}
		return nil
	})
}

// RecentEvents returns up to limit audit entries, newest first
func (m *Manager) RecentEvents(ctx context.Context, limit int) ([]types.SessionAuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT kind, role, facility_id, reason, occurred_at
		FROM session_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.SessionAuditEntry
	for rows.Next() {
		var kind string
		var role, facilityID, reason sql.NullString
		var entry types.SessionAuditEntry

		if err := rows.Scan(&kind, &role, &facilityID, &reason, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		entry.Kind = types.SessionEventKind(kind)
		entry.Role = types.Role(role.String)
		entry.FacilityID = facilityID.String
		entry.Reason = reason.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session events: %w", err)
	}

	return entries, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM client_state").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
