package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrWriteBufferFull  = errors.New("viewer write buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// Handler-related errors
var (
	ErrInvalidCommand    = errors.New("invalid viewer command")
	ErrRateLimitExceeded = errors.New("rate limit exceeded: 30 commands per minute")
)
