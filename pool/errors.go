package pool

import "errors"

var (
	// ErrClosed is returned when acquiring from or operating on a closed
	// pool.
	ErrClosed = errors.New("pool: pool is closed")

	// ErrAcquireTimeout is returned when a connection could not be
	// acquired within the configured timeout.
	ErrAcquireTimeout = errors.New("pool: acquire timed out")

	// ErrTxDone is returned when committing or rolling back a
	// transaction that has already been completed.
	ErrTxDone = errors.New("pool: transaction has already been committed or rolled back")

	// ErrNoSavepoint is returned when releasing or rolling back to a
	// savepoint that does not exist on the transaction's stack.
	ErrNoSavepoint = errors.New("pool: no such savepoint")
)

// IsAcquireTimeout reports whether the error resulted from an acquire
// timing out, including context deadline expiry during acquire.
func IsAcquireTimeout(err error) bool {
	return errors.Is(err, ErrAcquireTimeout)
}
