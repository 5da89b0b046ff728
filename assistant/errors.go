package assistant

import "fmt"

// ExternalServiceError is a chat provider failure after retries
type ExternalServiceError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ExecutionError reports a snippet that could not be interpreted. Index is
// the snippet's position in the reply it came from.
type ExecutionError struct {
	Index   int
	Snippet string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("snippet %d: %v", e.Index+1, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
