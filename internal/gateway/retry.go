package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/sirupsen/logrus"
)

// PageState is the lifecycle state of a single page request.
type PageState int

const (
	StatePending PageState = iota
	StateFetched
	StateRateLimited
	StateFailed
)

func (s PageState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateFetched:
		return "FETCHED"
	case StateRateLimited:
		return "RATE_LIMITED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// pageRequest tracks one page request through
// PENDING -> FETCHED | RATE_LIMITED -> PENDING | FAILED. Other transient
// failures are retried straight from PENDING.
type pageRequest struct {
	resource string
	state    PageState
	attempts int
	logger   *logrus.Logger
}

func (p *pageRequest) transition(next PageState) {
	p.logger.WithFields(logrus.Fields{
		"resource": p.resource,
		"attempt":  p.attempts,
	}).Debugf("%s -> %s", p.state, next)
	p.state = next
}

// defaultBackOff is the wait policy between attempts of one request.
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// do runs op until it succeeds, fails permanently, or exhausts the retry
// budget. Only transient failures are retried.
func (g *GitHubGateway) do(ctx context.Context, resource string, op func() error) error {
	req := &pageRequest{resource: resource, state: StatePending, logger: g.logger}
	policy := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.maxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		req.attempts++
		err := op()
		switch {
		case err == nil:
			req.transition(StateFetched)
			return nil
		case isRateLimited(err):
			req.transition(StateRateLimited)
			return &domain.TransientFetchError{Resource: resource, Err: err}
		case isTransient(err):
			return &domain.TransientFetchError{Resource: resource, Err: err}
		default:
			return backoff.Permanent(err)
		}
	}, policy, func(err error, wait time.Duration) {
		g.logger.Warnf("Retrying %s in %s: %v", resource, wait.Round(time.Millisecond), err)
		if req.state == StateRateLimited {
			req.transition(StatePending)
		}
	})
	if err == nil {
		return nil
	}

	req.transition(StateFailed)
	var transient *domain.TransientFetchError
	if errors.As(err, &transient) {
		err = transient.Err
	}
	return &domain.FatalFetchError{Resource: resource, Attempts: req.attempts, Err: err}
}

// isRateLimited reports whether GitHub refused err because of a rate limit.
func isRateLimited(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	return statusOf(err) == http.StatusTooManyRequests
}

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	if isRateLimited(err) {
		return true
	}
	if code := statusOf(err); code != 0 {
		return retryableStatus(code)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code
	}
	return 0
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
