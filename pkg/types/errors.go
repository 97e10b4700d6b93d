package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrMissingToken       = errors.New("session token cannot be empty")
	ErrInvalidRole        = errors.New("role must be one of facility, ambulance, commander, admin")
	ErrPartialSession     = errors.New("session must carry both token and role or neither")
	ErrInvalidSeverity    = errors.New("severity must be one of CRITICAL, SEVERE, MODERATE, MILD")
	ErrInvalidResource    = errors.New("required resource must be one of BED, VENTILATOR, OXYGEN")
	ErrInvalidPatientID   = errors.New("patient ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidCoordinates = errors.New("origin coordinates out of range")
	ErrEmptyChatMessage   = errors.New("chat message cannot be empty")
	ErrChatMessageTooLong = errors.New("chat message exceeds 2000 characters")
)
