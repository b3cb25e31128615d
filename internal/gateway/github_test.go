package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRepo = domain.Repository{Owner: "acme", Name: "templates"}

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	server := httptest.NewServer(handler)

	// Setup REST client to point to the mock server.
	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	// Use NewEnterpriseClient to point the GraphQL client to our mock server's URL.
	graphqlHTTP := &http.Client{Transport: &statusTransport{base: server.Client().Transport}}
	graphqlClient := githubv4.NewEnterpriseClient(server.URL+"/graphql", graphqlHTTP)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gateway := &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		logger:        logger,
		maxRetries:    2,
		newBackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}

	return gateway, server
}

func TestGitHubGateway_FetchPullRequests(t *testing.T) {
	var requests atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/repos/acme/templates/pulls", r.URL.Path)
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))

		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/templates/pulls?state=closed&page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, `[{"number":2,"title":"Add b.web","state":"closed","html_url":"https://github.com/acme/templates/pull/2",
				"user":{"login":"alice","avatar_url":"https://avatars/alice"},
				"labels":[{"name":"new template"}],
				"created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-03T10:00:00Z","merged_at":"2024-03-02T10:00:00Z"}]`)
			return
		}
		fmt.Fprint(w, `[{"number":1,"title":"Typo","state":"closed","user":{"login":"bob"},
			"created_at":"2024-01-01T10:00:00Z","updated_at":"2024-01-02T10:00:00Z"}]`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	prs, err := gateway.FetchPullRequests(context.Background(), testRepo, "closed")
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	require.Len(t, prs, 2)

	merged := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, prs[0].Number)
	assert.Equal(t, "alice", prs[0].Author)
	assert.Equal(t, "https://avatars/alice", prs[0].AuthorAvatar)
	assert.Equal(t, []string{"new template"}, prs[0].Labels)
	require.NotNil(t, prs[0].MergedAt)
	assert.True(t, prs[0].MergedAt.Equal(merged))

	assert.Equal(t, 1, prs[1].Number)
	assert.False(t, prs[1].IsMerged())
	assert.Equal(t, []string{}, prs[1].Labels)
}

func TestGitHubGateway_Retry(t *testing.T) {
	testCases := []struct {
		name             string
		statuses         []int
		expectedRequests int32
		expectError      bool
		expectedErrMsg   string
	}{
		{
			name:             "happy path - transient failure is retried",
			statuses:         []int{http.StatusBadGateway, http.StatusOK},
			expectedRequests: 2,
		},
		{
			name:             "error case - retries are exhausted",
			statuses:         []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK},
			expectedRequests: 3,
			expectError:      true,
			expectedErrMsg:   "after 3 attempt(s)",
		},
		{
			name:             "error case - not found is not retried",
			statuses:         []int{http.StatusNotFound, http.StatusOK},
			expectedRequests: 1,
			expectError:      true,
			expectedErrMsg:   "after 1 attempt(s)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var requests atomic.Int32
			handler := func(w http.ResponseWriter, r *http.Request) {
				n := requests.Add(1)
				status := tc.statuses[n-1]
				w.WriteHeader(status)
				if status != http.StatusOK {
					fmt.Fprint(w, `{"message": "failure"}`)
					return
				}
				fmt.Fprint(w, `[{"login":"alice","contributions":3}]`)
			}
			gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
			defer server.Close()

			contributors, err := gateway.FetchContributors(context.Background(), testRepo)
			assert.Equal(t, tc.expectedRequests, requests.Load())
			if tc.expectError {
				var fatal *domain.FatalFetchError
				require.True(t, errors.As(err, &fatal))
				assert.Contains(t, fatal.Resource, "acme/templates contributors")
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []domain.Contributor{{Login: "alice", Contributions: 3}}, contributors)
		})
	}
}

func TestGitHubGateway_FetchReviews(t *testing.T) {
	var requests atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "pullRequest(number: $number)")

		if n == 1 {
			// The first attempt hits a gateway error and must be retried.
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if !strings.Contains(string(body), `"cursor":"c1"`) {
			fmt.Fprint(w, `{"data":{"repository":{"pullRequest":{"reviews":{
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"},
				"nodes":[{"author":{"__typename":"User","login":"xavier","avatarUrl":"https://avatars/x"}},
				         {"author":null}]}}}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"repository":{"pullRequest":{"reviews":{
			"pageInfo":{"hasNextPage":false,"endCursor":"c2"},
			"nodes":[{"author":{"__typename":"Bot","login":"renovate","avatarUrl":"https://avatars/r"}},
			         {"author":{"__typename":"User","login":"yvonne","avatarUrl":"https://avatars/y"}}]}}}}}`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	authors, err := gateway.FetchReviews(context.Background(), testRepo, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, []ReviewAuthor{
		{Login: "xavier", AvatarURL: "https://avatars/x"},
		{Login: "renovate", AvatarURL: "https://avatars/r", Bot: true},
		{Login: "yvonne", AvatarURL: "https://avatars/y"},
	}, authors)
}

func TestGitHubGateway_FetchPullRequestFiles(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/templates/pulls/7/files", r.URL.Path)
		fmt.Fprint(w, `[{"filename":"a.web.json","status":"added"},{"filename":"docs/stats.json","status":"modified"}]`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	files, err := gateway.FetchPullRequestFiles(context.Background(), testRepo, 7)
	require.NoError(t, err)
	assert.Equal(t, []domain.PullRequestFile{
		{Filename: "a.web.json", Status: "added"},
		{Filename: "docs/stats.json", Status: "modified"},
	}, files)
}

func TestPageState_String(t *testing.T) {
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "FETCHED", StateFetched.String())
	assert.Equal(t, "RATE_LIMITED", StateRateLimited.String())
	assert.Equal(t, "FAILED", StateFailed.String())
}

func TestGitHubGateway_RetryStates(t *testing.T) {
	rateLimited := &github.RateLimitError{
		Response: &http.Response{StatusCode: http.StatusForbidden, Request: httptest.NewRequest(http.MethodGet, "https://api.github.com/repos/acme/templates/pulls", nil)},
		Message:  "API rate limit exceeded",
	}

	testCases := []struct {
		name     string
		failure  error
		expected []string
	}{
		{
			name:     "rate limit error passes through RATE_LIMITED",
			failure:  rateLimited,
			expected: []string{"PENDING -> RATE_LIMITED", "RATE_LIMITED -> PENDING", "PENDING -> FETCHED"},
		},
		{
			name:     "HTTP 429 passes through RATE_LIMITED",
			failure:  &statusError{code: http.StatusTooManyRequests, url: "https://api.github.com/graphql"},
			expected: []string{"PENDING -> RATE_LIMITED", "RATE_LIMITED -> PENDING", "PENDING -> FETCHED"},
		},
		{
			name:     "server error is retried from PENDING",
			failure:  &statusError{code: http.StatusBadGateway, url: "https://api.github.com/graphql"},
			expected: []string{"PENDING -> FETCHED"},
		},
		{
			name:     "network error is retried from PENDING",
			failure:  &net.DNSError{Err: "i/o timeout", Name: "api.github.com", IsTimeout: true},
			expected: []string{"PENDING -> FETCHED"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			gateway := &GitHubGateway{
				logger:     logger,
				maxRetries: 2,
				newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
			}

			calls := 0
			err := gateway.do(context.Background(), "acme/templates contributors", func() error {
				calls++
				if calls == 1 {
					return tc.failure
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 2, calls)

			var transitions []string
			for _, entry := range hook.AllEntries() {
				if entry.Level == logrus.DebugLevel {
					transitions = append(transitions, entry.Message)
				}
			}
			assert.Equal(t, tc.expected, transitions)
		})
	}
}

func TestIsTransient(t *testing.T) {
	response := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Request: httptest.NewRequest(http.MethodGet, "https://api.github.com/repos/acme/templates/contributors", nil)}
	}

	testCases := []struct {
		name        string
		err         error
		transient   bool
		rateLimited bool
	}{
		{name: "too many requests", err: &statusError{code: http.StatusTooManyRequests}, transient: true, rateLimited: true},
		{name: "service unavailable", err: &statusError{code: http.StatusServiceUnavailable}, transient: true},
		{name: "not found", err: &github.ErrorResponse{Response: response(http.StatusNotFound)}},
		{name: "wrapped bad gateway", err: fmt.Errorf("page 2: %w", &github.ErrorResponse{Response: response(http.StatusBadGateway)}), transient: true},
		{name: "abuse limit", err: &github.AbuseRateLimitError{}, transient: true, rateLimited: true},
		{name: "plain error", err: errors.New("boom")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, isTransient(tc.err))
			assert.Equal(t, tc.rateLimited, isRateLimited(tc.err))
		})
	}
}
