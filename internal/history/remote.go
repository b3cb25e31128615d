package history

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/naka-gawa/template-stats/internal/domain"
)

// Matches https://github.com/owner/repo(.git) and git@github.com:owner/repo(.git).
var githubURLPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/(.+?)(?:\.git)?/?$`)

// ParseRemoteURL extracts the repository identity from a GitHub remote URL.
func ParseRemoteURL(url string) (domain.Repository, bool) {
	m := githubURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return domain.Repository{}, false
	}
	return domain.Repository{Owner: m[1], Name: m[2]}, true
}

// ResolveRepository reads the GitHub repository from the git remotes of the
// repository containing folder. With an empty remote name the repository
// must have exactly one remote.
func ResolveRepository(folder, remote string) (domain.Repository, error) {
	repo, _, err := open(folder)
	if err != nil {
		return domain.Repository{}, err
	}

	if remote == "" {
		remotes, err := repo.Remotes()
		if err != nil {
			return domain.Repository{}, domain.NewConfigurationError("cannot list git remotes: %v", err)
		}
		names := make([]string, 0, len(remotes))
		for _, r := range remotes {
			names = append(names, r.Config().Name)
		}
		sort.Strings(names)
		switch len(names) {
		case 0:
			return domain.Repository{}, domain.NewConfigurationError("no git remotes configured; pass --repo-owner and --repo-name")
		case 1:
			remote = names[0]
		default:
			return domain.Repository{}, domain.NewConfigurationError(
				"multiple git remotes found (%s); choose one with --remote or pass --repo-owner and --repo-name",
				strings.Join(names, ", "))
		}
	}

	r, err := repo.Remote(remote)
	if errors.Is(err, git.ErrRemoteNotFound) {
		return domain.Repository{}, domain.NewConfigurationError("git remote %q not found", remote)
	}
	if err != nil {
		return domain.Repository{}, domain.NewConfigurationError("cannot read git remote %q: %v", remote, err)
	}

	urls := r.Config().URLs
	if len(urls) == 0 {
		return domain.Repository{}, domain.NewConfigurationError("git remote %q has no URL", remote)
	}
	parsed, ok := ParseRemoteURL(urls[0])
	if !ok {
		return domain.Repository{}, domain.NewConfigurationError("cannot parse GitHub owner/repo from remote %q URL %s", remote, urls[0])
	}
	return parsed, nil
}
