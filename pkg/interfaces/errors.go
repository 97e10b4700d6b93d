package interfaces

import "errors"

// ErrUnauthorized is returned when a caller fails an access check
var ErrUnauthorized = errors.New("unauthorized access")
