package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Venue     string // Venue the connection belongs to
	Op        string // Operation that failed (e.g., "dial", "read", "subscribe")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Venue + " " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(venue, op string, err error) *NetworkError {
	return &NetworkError{Venue: venue, Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(venue, op string, err error) *NetworkError {
	return &NetworkError{Venue: venue, Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrParse is returned when a venue frame cannot be decoded. The message
	// is dropped; the connection stays up.
	ErrParse = errors.New("parse failed")

	// ErrSequenceGap is returned when an incremental update does not follow
	// the last applied sequence. The book is frozen until resync.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrCrossedBook is returned when a proposed snapshot has bid >= ask.
	// The snapshot is rejected; the prior valid one is retained.
	ErrCrossedBook = errors.New("crossed book")

	// ErrInvalidBook is returned when a snapshot violates side ordering.
	ErrInvalidBook = errors.New("invalid book")

	// ErrInsufficientLiquidity is returned when aggregate depth cannot fill
	// a requested quantity. Callers may retry with a smaller size.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInvalidState is returned when an execution is requested while the
	// system is not Live.
	ErrInvalidState = errors.New("invalid state")

	// ErrVenueStale is returned when a venue's last message age exceeds the
	// staleness threshold.
	ErrVenueStale = errors.New("venue stale")

	// ErrNoSnapshot is returned when a venue has not yet produced a book.
	ErrNoSnapshot = errors.New("no snapshot")
)
