// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const perPage = 100

// ReviewAuthor is the author of one submitted review.
type ReviewAuthor struct {
	Login     string
	AvatarURL string
	Bot       bool
}

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	FetchPullRequests(ctx context.Context, repo domain.Repository, state string) ([]domain.PullRequest, error)
	FetchPullRequestFiles(ctx context.Context, repo domain.Repository, number int) ([]domain.PullRequestFile, error)
	// FetchReviews returns the author of every review of a pull request,
	// bots and self-reviews included.
	FetchReviews(ctx context.Context, repo domain.Repository, number int) ([]ReviewAuthor, error)
	FetchContributors(ctx context.Context, repo domain.Repository) ([]domain.Contributor, error)
}

// Options tunes request pacing and retries.
type Options struct {
	MaxRetries        uint64
	RequestsPerSecond float64
	Burst             int
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *logrus.Logger
	maxRetries    uint64
	newBackOff    func() backoff.BackOff
}

// reviewsQuery pages through the reviews of one pull request.
type reviewsQuery struct {
	Repository struct {
		PullRequest struct {
			Reviews struct {
				PageInfo struct {
					HasNextPage bool
					EndCursor   githubv4.String
				}
				Nodes []struct {
					Author struct {
						Typename  string `graphql:"__typename"`
						Login     string
						AvatarURL string `graphql:"avatarUrl"`
					}
				}
			} `graphql:"reviews(first: 100, after: $cursor)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, opts Options, logger *logrus.Logger) (*GitHubGateway, error) {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	throttled := &throttledTransport{base: http.DefaultTransport, limiter: rate.NewLimiter(limit, burst)}

	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(throttled, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	authed := &oauth2.Transport{
		Base:   rateLimitWaiter,
		Source: ts,
	}

	return &GitHubGateway{
		restClient:    github.NewClient(&http.Client{Transport: authed}),
		graphqlClient: githubv4.NewClient(&http.Client{Transport: &statusTransport{base: authed}}),
		logger:        logger,
		maxRetries:    opts.MaxRetries,
		newBackOff:    defaultBackOff,
	}, nil
}

// FetchPullRequests lists every pull request in the given state.
// Closed pull requests come most recently updated first.
func (g *GitHubGateway) FetchPullRequests(ctx context.Context, repo domain.Repository, state string) ([]domain.PullRequest, error) {
	g.logger.Infof("Fetching %s pull requests of %s...", state, repo)
	opts := &github.PullRequestListOptions{State: state, ListOptions: github.ListOptions{PerPage: perPage}}
	if state == "closed" {
		opts.Sort = "updated"
		opts.Direction = "desc"
	}

	var prs []domain.PullRequest
	for {
		var page []*github.PullRequest
		var resp *github.Response
		resource := fmt.Sprintf("%s pulls (state=%s, page=%d)", repo, state, pageNumber(opts.Page))
		err := g.do(ctx, resource, func() error {
			var err error
			page, resp, err = g.restClient.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, pr := range page {
			prs = append(prs, toPullRequest(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Debugf("  Fetching page %d of %s pull requests...", opts.Page, state)
	}
	g.logger.Infof("Fetched %d %s pull requests.", len(prs), state)
	return prs, nil
}

// FetchPullRequestFiles lists the files changed by a pull request.
func (g *GitHubGateway) FetchPullRequestFiles(ctx context.Context, repo domain.Repository, number int) ([]domain.PullRequestFile, error) {
	opts := &github.ListOptions{PerPage: perPage}
	var files []domain.PullRequestFile
	for {
		var page []*github.CommitFile
		var resp *github.Response
		resource := fmt.Sprintf("%s pull #%d files (page=%d)", repo, number, pageNumber(opts.Page))
		err := g.do(ctx, resource, func() error {
			var err error
			page, resp, err = g.restClient.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, f := range page {
			files = append(files, domain.PullRequestFile{Filename: f.GetFilename(), Status: f.GetStatus()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// FetchReviews pages through the reviews of a pull request using the GraphQL API.
func (g *GitHubGateway) FetchReviews(ctx context.Context, repo domain.Repository, number int) ([]ReviewAuthor, error) {
	variables := map[string]interface{}{
		"owner":  githubv4.String(repo.Owner),
		"name":   githubv4.String(repo.Name),
		"number": githubv4.Int(number),
		"cursor": (*githubv4.String)(nil),
	}

	var authors []ReviewAuthor
	for page := 1; ; page++ {
		var q reviewsQuery
		resource := fmt.Sprintf("%s pull #%d reviews (page=%d)", repo, number, page)
		err := g.do(ctx, resource, func() error {
			return g.graphqlClient.Query(ctx, &q, variables)
		})
		if err != nil {
			return nil, err
		}

		reviews := q.Repository.PullRequest.Reviews
		for _, node := range reviews.Nodes {
			a := node.Author
			if a.Login == "" {
				continue // Deleted accounts have no author.
			}
			authors = append(authors, ReviewAuthor{
				Login:     a.Login,
				AvatarURL: a.AvatarURL,
				Bot:       a.Typename == "Bot" || strings.HasSuffix(a.Login, "[bot]"),
			})
		}
		if !reviews.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(reviews.PageInfo.EndCursor)
	}
	return authors, nil
}

// FetchContributors lists the contributors of the repository.
func (g *GitHubGateway) FetchContributors(ctx context.Context, repo domain.Repository) ([]domain.Contributor, error) {
	g.logger.Infof("Fetching contributors of %s...", repo)
	opts := &github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: perPage}}

	var contributors []domain.Contributor
	for {
		var page []*github.Contributor
		var resp *github.Response
		resource := fmt.Sprintf("%s contributors (page=%d)", repo, pageNumber(opts.Page))
		err := g.do(ctx, resource, func() error {
			var err error
			page, resp, err = g.restClient.Repositories.ListContributors(ctx, repo.Owner, repo.Name, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			contributors = append(contributors, domain.Contributor{
				Login:         c.GetLogin(),
				Contributions: c.GetContributions(),
				AvatarURL:     c.GetAvatarURL(),
				ProfileURL:    c.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	g.logger.Infof("Fetched %d contributors.", len(contributors))
	return contributors, nil
}

func toPullRequest(pr *github.PullRequest) domain.PullRequest {
	out := domain.PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		Labels:       make([]string, 0, len(pr.Labels)),
		URL:          pr.GetHTMLURL(),
		Author:       pr.GetUser().GetLogin(),
		AuthorAvatar: pr.GetUser().GetAvatarURL(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	for _, l := range pr.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	if pr.MergedAt != nil {
		merged := pr.MergedAt.Time
		out.MergedAt = &merged
	}
	return out
}

func pageNumber(page int) int {
	if page == 0 {
		return 1
	}
	return page
}
