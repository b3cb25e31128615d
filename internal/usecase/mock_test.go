package usecase

import (
	"context"
	"io"
	"time"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/gateway"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
// It allows us to simulate the behavior of the GitHub gateway without making real API calls.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPullRequests(ctx context.Context, repo domain.Repository, state string) ([]domain.PullRequest, error) {
	args := m.Called(ctx, repo, state)
	// We need to handle the case where the returned slice is nil (e.g., when an error occurs).
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PullRequest), args.Error(1)
}

func (m *mockFetcher) FetchPullRequestFiles(ctx context.Context, repo domain.Repository, number int) ([]domain.PullRequestFile, error) {
	args := m.Called(ctx, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PullRequestFile), args.Error(1)
}

func (m *mockFetcher) FetchReviews(ctx context.Context, repo domain.Repository, number int) ([]gateway.ReviewAuthor, error) {
	args := m.Called(ctx, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.ReviewAuthor), args.Error(1)
}

func (m *mockFetcher) FetchContributors(ctx context.Context, repo domain.Repository) ([]domain.Contributor, error) {
	args := m.Called(ctx, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Contributor), args.Error(1)
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Read(folder string) ([]domain.Template, []*domain.ValidationError, error) {
	args := m.Called(folder)
	var templates []domain.Template
	var invalid []*domain.ValidationError
	if v := args.Get(0); v != nil {
		templates = v.([]domain.Template)
	}
	if v := args.Get(1); v != nil {
		invalid = v.([]*domain.ValidationError)
	}
	return templates, invalid, args.Error(2)
}

type mockWalker struct {
	mock.Mock
}

func (m *mockWalker) Walk(folder string) ([]domain.CommitEvent, error) {
	args := m.Called(folder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CommitEvent), args.Error(1)
}

var testRepo = domain.Repository{Owner: "acme", Name: "templates"}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func mergedAt(t time.Time) *time.Time {
	return &t
}
