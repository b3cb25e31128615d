package domain

import "fmt"

// ConfigurationError reports bad flags, a missing credential or an ambiguous
// remote. It is fatal.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a template file excluded from the statistics.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid template %s: %s", e.File, e.Reason)
}

// TransientFetchError is a failed request that may succeed when retried.
type TransientFetchError struct {
	Resource string
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient failure fetching %s: %v", e.Resource, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// FatalFetchError is a request that failed permanently or exhausted its retries.
type FatalFetchError struct {
	Resource string
	Attempts int
	Err      error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s after %d attempt(s): %v", e.Resource, e.Attempts, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// HistoryUnavailableError reports that the git history of the template folder
// cannot be read completely.
type HistoryUnavailableError struct {
	Path   string
	Reason string
}

func (e *HistoryUnavailableError) Error() string {
	return fmt.Sprintf("git history unavailable for %s: %s", e.Path, e.Reason)
}

