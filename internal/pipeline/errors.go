package pipeline

// capacityError signals that no slot was free and the trigger queue was full
// (or queueing is disabled). Maps to 429 on the HTTP surface.
type capacityError struct{ reason string }

func (e capacityError) Error() string { return "capacity exceeded: " + e.reason }

// ErrCapacity constructs a backpressure error with the given reason.
func ErrCapacity(reason string) error { return capacityError{reason: reason} }

// IsCapacityExceeded reports whether err indicates backpressure.
func IsCapacityExceeded(err error) bool {
	_, ok := err.(capacityError)
	return ok
}

// drainingError signals the pipeline is shutting down and rejects new work.
type drainingError struct{}

func (drainingError) Error() string { return "pipeline draining" }

// ErrDraining constructs a shutdown-in-progress error.
func ErrDraining() error { return drainingError{} }

// IsDraining reports whether err indicates shutdown is in progress.
func IsDraining(err error) bool {
	_, ok := err.(drainingError)
	return ok
}

// backendError marks a transport/model failure after the retry budget was
// spent. The turn is recorded as failed; the pipeline keeps running.
type backendError struct{ err error }

func (e backendError) Error() string { return "backend: " + e.err.Error() }
func (e backendError) Unwrap() error { return e.err }

// IsBackendError reports whether err is a surfaced backend failure.
func IsBackendError(err error) bool {
	_, ok := err.(backendError)
	return ok
}

// timeoutError marks a turn that exceeded its per-turn deadline.
type timeoutError struct{}

func (timeoutError) Error() string { return "turn timeout exceeded" }

// IsTimeout reports whether err is a per-turn timeout.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}
