package usecase

import (
	"context"
	"sort"
	"strings"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/gateway"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RemoteOptions controls how much is fetched from GitHub.
type RemoteOptions struct {
	// Concurrency caps the number of pull requests fetched at once.
	Concurrency int
	// RecentMerged is how many merged pull requests join the open ones in
	// the recent table.
	RecentMerged int
}

// RemoteData is everything collected from the GitHub API.
type RemoteData struct {
	// PullRequests holds open and closed pull requests with reviewers,
	// ordered by number.
	PullRequests []domain.PullRequest
	// Recent holds open pull requests and the most recently merged ones,
	// with their changed files.
	Recent       []domain.PullRequest
	Contributors []domain.Contributor
}

// FetchRemote collects pull requests, reviewers and contributors of repo.
// Reviewers are only requested for pull requests whose cache entry is
// missing or older than the pull request; the returned cache holds every
// previous entry plus the refreshed ones.
func FetchRemote(ctx context.Context, fetcher gateway.Fetcher, repo domain.Repository, cache domain.ReviewCache, opts RemoteOptions, logger *logrus.Logger) (RemoteData, domain.ReviewCache, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	var open, closed []domain.PullRequest
	var contributors []domain.Contributor

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		open, err = fetcher.FetchPullRequests(egCtx, repo, "open")
		return err
	})
	eg.Go(func() error {
		var err error
		closed, err = fetcher.FetchPullRequests(egCtx, repo, "closed")
		return err
	})
	eg.Go(func() error {
		var err error
		contributors, err = fetcher.FetchContributors(egCtx, repo)
		return err
	})
	if err := eg.Wait(); err != nil {
		return RemoteData{}, nil, err
	}

	prs := mergePullRequests(open, closed)
	recent := recentPullRequests(prs, opts.RecentMerged)

	reviewers := make([][]domain.Reviewer, len(prs))
	fetched := make([]bool, len(prs))
	files := make([][]domain.PullRequestFile, len(recent))
	hits := 0

	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)
	for i, pr := range prs {
		i, pr := i, pr
		if cached, ok := cache.Lookup(pr); ok {
			reviewers[i] = cached
			hits++
			continue
		}
		eg.Go(func() error {
			authors, err := fetcher.FetchReviews(egCtx, repo, pr.Number)
			if err != nil {
				return err
			}
			reviewers[i] = humanReviewers(pr.Author, authors)
			fetched[i] = true
			return nil
		})
	}
	for i, pr := range recent {
		i, pr := i, pr
		eg.Go(func() error {
			f, err := fetcher.FetchPullRequestFiles(egCtx, repo, pr.Number)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return RemoteData{}, nil, err
	}
	logger.Infof("Reviewer cache: %d hits, %d refreshed.", hits, len(prs)-hits)

	next := cache.Clone()
	for i := range prs {
		prs[i].Reviewers = reviewers[i]
		if fetched[i] {
			next[domain.CacheKey(prs[i].Number)] = domain.CacheEntry{
				LastUpdated: domain.CacheStamp(prs[i].UpdatedAt),
				Reviewers:   reviewers[i],
			}
		}
	}
	for i := range recent {
		recent[i].Files = files[i]
	}

	return RemoteData{PullRequests: prs, Recent: recent, Contributors: contributors}, next, nil
}

// mergePullRequests combines both listings, ordered by number. A pull
// request listed twice keeps its closed version.
func mergePullRequests(open, closed []domain.PullRequest) []domain.PullRequest {
	byNumber := make(map[int]domain.PullRequest, len(open)+len(closed))
	for _, pr := range open {
		byNumber[pr.Number] = pr
	}
	for _, pr := range closed {
		byNumber[pr.Number] = pr
	}
	out := make([]domain.PullRequest, 0, len(byNumber))
	for _, pr := range byNumber {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// recentPullRequests returns the open pull requests and the n most recently
// updated merged ones.
func recentPullRequests(prs []domain.PullRequest, n int) []domain.PullRequest {
	var open, merged []domain.PullRequest
	for _, pr := range prs {
		switch {
		case pr.State == "open":
			open = append(open, pr)
		case pr.IsMerged():
			merged = append(merged, pr)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
		}
		return merged[i].Number > merged[j].Number
	})
	if len(merged) > n {
		merged = merged[:n]
	}
	return append(open, merged...)
}

// humanReviewers keeps distinct human reviewers other than the author,
// sorted by username.
func humanReviewers(author string, authors []gateway.ReviewAuthor) []domain.Reviewer {
	seen := make(map[string]bool)
	out := make([]domain.Reviewer, 0, len(authors))
	for _, a := range authors {
		key := strings.ToLower(a.Login)
		if a.Bot || a.Login == "" || strings.EqualFold(a.Login, author) || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, domain.Reviewer{Username: a.Login, Avatar: a.AvatarURL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
