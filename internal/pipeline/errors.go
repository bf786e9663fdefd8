package pipeline

import "fmt"

// ValidationError reports a downloaded payload whose bytes do not carry the
// expected structural signature. Treated as transient: a corrupted transfer
// is retried like any transport failure.
type ValidationError struct {
	Kind   string
	URL    string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s from %s: %s", e.Kind, e.URL, e.Detail)
}

// DownloadExhaustedError reports a fetch that failed every allowed attempt.
// It carries the last underlying cause.
type DownloadExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadExhaustedError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DownloadExhaustedError) Unwrap() error { return e.Err }

// SourceUnavailableError reports a listing call that failed entirely. It is
// isolated to its source; the run continues with the remaining sources.
type SourceUnavailableError struct {
	SourceID string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// EngineError reports an analysis-engine failure (timeout, malformed or
// truncated response, rate-limit rejection). Isolated to its opinion; the
// batch continues.
type EngineError struct {
	Op          string
	RateLimited bool
	Err         error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("analysis engine: %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// PersistenceError reports a ledger storage failure. Fatal to the enclosing
// operation: the record in doubt is treated as unwritten and callers must
// not assume success.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
