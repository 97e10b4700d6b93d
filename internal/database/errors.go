package database

import "errors"

var (
	// ErrManagerClosed is returned for writes after Close
	ErrManagerClosed = errors.New("database manager is closed")

	// ErrRedisUnavailable wraps connection failures of the Redis store
	ErrRedisUnavailable = errors.New("redis unavailable")
)
