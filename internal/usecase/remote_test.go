package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFetchRemote(t *testing.T) {
	updated := date(2024, 5, 1)
	open := []domain.PullRequest{
		{Number: 3, State: "open", Author: "xavier", CreatedAt: date(2024, 4, 1), UpdatedAt: updated},
	}
	closed := []domain.PullRequest{
		{Number: 1, State: "closed", Author: "alice", CreatedAt: date(2024, 1, 1), UpdatedAt: updated, MergedAt: mergedAt(date(2024, 1, 2))},
		{Number: 2, State: "closed", Author: "bob", CreatedAt: date(2024, 2, 1), UpdatedAt: updated},
	}

	cache := domain.ReviewCache{
		// Current entry: must not be fetched again.
		"1": {LastUpdated: domain.CacheStamp(updated), Reviewers: []domain.Reviewer{{Username: "carol", Avatar: "c"}}},
		// Stale entry: the pull request changed since.
		"2": {LastUpdated: domain.CacheStamp(date(2024, 1, 1)), Reviewers: []domain.Reviewer{{Username: "old"}}},
		// Entry of a pull request no longer listed stays in the cache.
		"99": {LastUpdated: "2020-01-01T00:00:00Z"},
	}

	fetcher := new(mockFetcher)
	fetcher.On("FetchPullRequests", mock.Anything, testRepo, "open").Return(open, nil)
	fetcher.On("FetchPullRequests", mock.Anything, testRepo, "closed").Return(closed, nil)
	fetcher.On("FetchContributors", mock.Anything, testRepo).Return([]domain.Contributor{{Login: "alice", Contributions: 5}}, nil)
	fetcher.On("FetchReviews", mock.Anything, testRepo, 2).Return([]gateway.ReviewAuthor{
		{Login: "dave", AvatarURL: "d"},
		{Login: "bob", AvatarURL: "b"},
		{Login: "dave", AvatarURL: "d"},
		{Login: "dependabot[bot]", Bot: true},
	}, nil)
	fetcher.On("FetchReviews", mock.Anything, testRepo, 3).Return([]gateway.ReviewAuthor{
		{Login: "Xavier", AvatarURL: "x"},
		{Login: "yvonne", AvatarURL: "y"},
	}, nil)
	fetcher.On("FetchPullRequestFiles", mock.Anything, testRepo, 1).Return([]domain.PullRequestFile{{Filename: "a.web.json", Status: "added"}}, nil)
	fetcher.On("FetchPullRequestFiles", mock.Anything, testRepo, 3).Return([]domain.PullRequestFile{}, nil)

	data, next, err := FetchRemote(context.Background(), fetcher, testRepo, cache, RemoteOptions{Concurrency: 2, RecentMerged: 10}, discardLogger())
	require.NoError(t, err)
	fetcher.AssertExpectations(t)
	fetcher.AssertNotCalled(t, "FetchReviews", mock.Anything, testRepo, 1)
	fetcher.AssertNotCalled(t, "FetchPullRequestFiles", mock.Anything, testRepo, 2)

	require.Len(t, data.PullRequests, 3)
	assert.Equal(t, []domain.Reviewer{{Username: "carol", Avatar: "c"}}, data.PullRequests[0].Reviewers)
	assert.Equal(t, []domain.Reviewer{{Username: "dave", Avatar: "d"}}, data.PullRequests[1].Reviewers)
	assert.Equal(t, []domain.Reviewer{{Username: "yvonne", Avatar: "y"}}, data.PullRequests[2].Reviewers)

	recent := make([]int, 0, len(data.Recent))
	for _, pr := range data.Recent {
		recent = append(recent, pr.Number)
	}
	assert.Equal(t, []int{3, 1}, recent)
	assert.Equal(t, []domain.PullRequestFile{{Filename: "a.web.json", Status: "added"}}, data.Recent[1].Files)

	assert.Len(t, next, 4)
	assert.Equal(t, cache["1"], next["1"])
	assert.Equal(t, cache["99"], next["99"])
	assert.Equal(t, domain.CacheEntry{LastUpdated: domain.CacheStamp(updated), Reviewers: []domain.Reviewer{{Username: "dave", Avatar: "d"}}}, next["2"])
	assert.Equal(t, domain.CacheStamp(updated), next["3"].LastUpdated)
	// The input cache is left untouched.
	assert.Equal(t, []domain.Reviewer{{Username: "old"}}, cache["2"].Reviewers)
}

func TestFetchRemote_FetchError(t *testing.T) {
	fetchErr := &domain.FatalFetchError{Resource: "acme/templates pull #1 reviews (page=1)", Attempts: 6, Err: errors.New("HTTP 502")}

	fetcher := new(mockFetcher)
	fetcher.On("FetchPullRequests", mock.Anything, testRepo, "open").Return([]domain.PullRequest{}, nil)
	fetcher.On("FetchPullRequests", mock.Anything, testRepo, "closed").Return([]domain.PullRequest{
		{Number: 1, State: "closed", Author: "alice", UpdatedAt: date(2024, 1, 1)},
	}, nil)
	fetcher.On("FetchContributors", mock.Anything, testRepo).Return([]domain.Contributor{}, nil)
	fetcher.On("FetchReviews", mock.Anything, testRepo, 1).Return(nil, fetchErr)

	_, next, err := FetchRemote(context.Background(), fetcher, testRepo, domain.ReviewCache{}, RemoteOptions{Concurrency: 1, RecentMerged: 10}, discardLogger())
	assert.ErrorIs(t, err, fetchErr)
	assert.Nil(t, next)
}

func TestRecentPullRequests(t *testing.T) {
	var prs []domain.PullRequest
	for i := 1; i <= 12; i++ {
		prs = append(prs, domain.PullRequest{Number: i, State: "closed", UpdatedAt: date(2024, 1, i), MergedAt: mergedAt(date(2024, 1, i))})
	}
	prs = append(prs,
		domain.PullRequest{Number: 13, State: "closed", UpdatedAt: date(2024, 2, 1)},
		domain.PullRequest{Number: 14, State: "open", UpdatedAt: date(2023, 1, 1)},
	)

	recent := recentPullRequests(prs, 10)
	numbers := make([]int, 0, len(recent))
	for _, pr := range recent {
		numbers = append(numbers, pr.Number)
	}
	assert.Equal(t, []int{14, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3}, numbers)
}
