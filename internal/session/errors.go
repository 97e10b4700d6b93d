package session

import "errors"

// ErrPersistenceFailed wraps every storage failure surfaced by the store
var ErrPersistenceFailed = errors.New("session persistence failed")
