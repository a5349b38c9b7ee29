package shift

import "errors"

// Sentinel kinds for shift planning errors.
var (
	ErrOutOfRange = errors.New("requested rank out of range")
	ErrNotRanked  = errors.New("dish not ranked")
)
