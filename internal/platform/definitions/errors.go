package definitions

import "fmt"

// TransportError reports a network failure reaching the definition service.
// It is only surfaced after the retry budget is spent.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("definitions: request to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamStatusError reports a non-2xx response that persisted through every retry.
type UpstreamStatusError struct {
	URL        string
	StatusCode int
	Attempts   int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("definitions: %s returned status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
}

// ParseError reports a payload that does not have the expected structure.
// Parse failures are never retried.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("definitions: malformed payload: %v", e.Err)
	}
	return fmt.Sprintf("definitions: malformed payload from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports missing or invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
