package ranking

import "errors"

// Sentinel kinds for mutation engine errors.
var (
	ErrInvalidScope       = errors.New("unknown ranking scope")
	ErrConcurrentMutation = errors.New("concurrent mutation conflict")
)
