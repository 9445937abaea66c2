package cache

import "errors"

// Caller contract violations. These are not retryable and should abort the
// current training step.
var (
	ErrConfiguration = errors.New("cache: invalid configuration")
	ErrUnknownField  = errors.New("cache: unknown field")
	ErrOutOfRange    = errors.New("cache: node id out of range")
)

// Lifecycle errors.
var (
	ErrAlreadyPopulated = errors.New("cache: already populated")
	ErrNotWarm          = errors.New("cache: no batch observed before populate")
	ErrCountingDisabled = errors.New("cache: counting disabled")
	ErrClosed           = errors.New("cache: closed")
)

// Store errors. ErrFetchTimeout is the only transient one; retry it with a
// bounded number of attempts (see Options.FetchRetries).
var (
	ErrFetchTimeout = errors.New("cache: feature store fetch timed out")
	ErrShortRead    = errors.New("cache: feature store returned wrong row count")
)
