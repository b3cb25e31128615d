package gateway

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// throttledTransport waits on a shared limiter before every request so
// concurrent fetches stay under the API's request rate.
type throttledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return t.base.RoundTrip(req)
}

// statusError is an HTTP status the GraphQL client would otherwise only
// report as text.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.url, e.code)
}

// statusTransport turns retryable HTTP statuses into typed errors.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if retryableStatus(resp.StatusCode) {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, url: req.URL.Redacted()}
	}
	return resp, nil
}
