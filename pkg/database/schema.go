package database

import (
	"database/sql"
	"fmt"
)

// ClientStateKeys are the three entries of a persisted session
var ClientStateKeys = []string{"token", "role", "facility_id"}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"client_state":      "Persisted session entries",
		"session_events":    "Session transition audit",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column structure matches expectations
func (v *SchemaValidator) ValidateTableStructure() error {
	stateColumns := map[string]string{
		"key":        "TEXT",
		"value":      "TEXT",
		"updated_at": "DATETIME",
	}
	if err := v.validateColumns("client_state", stateColumns); err != nil {
		return fmt.Errorf("client_state table structure invalid: %w", err)
	}

	eventColumns := map[string]string{
		"id":          "INTEGER",
		"kind":        "TEXT",
		"role":        "TEXT",
		"facility_id": "TEXT",
		"reason":      "TEXT",
		"occurred_at": "DATETIME",
	}
	if err := v.validateColumns("session_events", eventColumns); err != nil {
		return fmt.Errorf("session_events table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	exists, err := v.objectExists("index", "idx_session_events_time")
	if err != nil {
		return fmt.Errorf("error checking index idx_session_events_time: %w", err)
	}
	if !exists {
		return fmt.Errorf("required index idx_session_events_time does not exist")
	}
	return nil
}

// ValidateConstraints verifies that client_state rejects keys outside the session triple
// TECHNICAL DISCOVERY: The CHECK constraint keeps stray entries from ever
// being read back as part of a session
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`INSERT INTO client_state (key, value) VALUES ('unexpected', 'x')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM client_state WHERE key = 'unexpected'`)
		return fmt.Errorf("check constraint not enforced: client_state.key")
	}

	_, err = v.db.Exec(`INSERT INTO session_events (kind) VALUES ('refresh')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM session_events WHERE kind = 'refresh'`)
		return fmt.Errorf("check constraint not enforced: session_events.kind")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, expectedType := range expectedColumns {
		foundType, exists := foundColumns[col]
		if !exists {
			return fmt.Errorf("column %s not found", col)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", col, foundType, expectedType)
		}
	}

	return nil
}
