package classifier

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey      = errors.New("llm api key not set")
	ErrCircuitOpen        = errors.New("classifier circuit is open")
	errResponseTooLarge   = errors.New("response body too large")
	errEmptyProviderReply = errors.New("empty response")
)

// ProviderError means the backend could not be reached or did not answer
// with a usable envelope. It is folded into a fallback result.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SchemaError means the backend answered but the content failed validation.
// It is folded into a degraded result.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema: %s: %v", e.Reason, e.Err)
	}
	return "schema: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }
