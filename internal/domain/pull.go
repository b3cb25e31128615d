package domain

import (
	"strconv"
	"time"
)

// PullRequest is a pull request of the templates repository together with
// the data collected about it.
type PullRequest struct {
	Number       int
	Title        string
	State        string
	Labels       []string
	URL          string
	Author       string
	AuthorAvatar string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time

	// Reviewers are distinct human reviewers, the author excluded.
	Reviewers []Reviewer
	Files     []PullRequestFile
}

// IsMerged reports whether the pull request has been merged.
func (p PullRequest) IsMerged() bool {
	return p.MergedAt != nil
}

type Reviewer struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type PullRequestFile struct {
	Filename string
	Status   string
}

type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
	AvatarURL     string `json:"avatar_url"`
	ProfileURL    string `json:"profile_url"`
}

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// URL returns the web address of the repository.
func (r Repository) URL() string {
	return "https://github.com/" + r.Owner + "/" + r.Name
}

// CacheEntry is the cached reviewer list of one pull request.
type CacheEntry struct {
	LastUpdated string     `json:"last_updated"`
	Reviewers   []Reviewer `json:"reviewers"`
}

// ReviewCache maps a pull request number, in decimal, to its cached reviewers.
type ReviewCache map[string]CacheEntry

// CacheKey returns the cache key of pull request number.
func CacheKey(number int) string {
	return strconv.Itoa(number)
}

// CacheStamp formats an updated-at timestamp the way it is stored in the cache.
func CacheStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Lookup returns the cached reviewers of pr when the entry is still current.
func (c ReviewCache) Lookup(pr PullRequest) ([]Reviewer, bool) {
	entry, ok := c[CacheKey(pr.Number)]
	if !ok || entry.LastUpdated != CacheStamp(pr.UpdatedAt) {
		return nil, false
	}
	return entry.Reviewers, true
}

// Clone returns a shallow copy of the cache.
func (c ReviewCache) Clone() ReviewCache {
	out := make(ReviewCache, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
