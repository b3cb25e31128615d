// Package history reads the git history of the template folder.
package history

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/sirupsen/logrus"
)

// Walker derives commit events for the template files of a folder.
type Walker struct {
	logger *logrus.Logger
}

// NewWalker creates a new Walker.
func NewWalker(logger *logrus.Logger) *Walker {
	return &Walker{logger: logger}
}

// open returns the repository containing folder and the folder's path
// relative to the worktree root, in slash form.
func open(folder string) (*git.Repository, string, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, "", &domain.HistoryUnavailableError{Path: folder, Reason: err.Error()}
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, git.ErrRepositoryNotExists) {
			reason = "not inside a git repository"
		}
		return nil, "", &domain.HistoryUnavailableError{Path: folder, Reason: reason}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", &domain.HistoryUnavailableError{Path: folder, Reason: err.Error()}
	}
	root := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, "", &domain.HistoryUnavailableError{Path: folder, Reason: err.Error()}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}
	return repo, rel, nil
}

// Walk returns one event per (commit, template file) pair over all refs.
// A missing repository or a shallow clone is reported as a
// HistoryUnavailableError, since growth series would silently be wrong.
func (w *Walker) Walk(folder string) ([]domain.CommitEvent, error) {
	w.logger.Infof("Analyzing git history of %s...", folder)
	repo, prefix, err := open(folder)
	if err != nil {
		return nil, err
	}

	shallow, err := repo.Storer.Shallow()
	if err != nil {
		return nil, &domain.HistoryUnavailableError{Path: folder, Reason: err.Error()}
	}
	if len(shallow) > 0 {
		return nil, &domain.HistoryUnavailableError{Path: folder, Reason: "repository is a shallow clone; fetch the full history"}
	}

	iter, err := repo.Log(&git.LogOptions{All: true})
	if err != nil {
		return nil, &domain.HistoryUnavailableError{Path: folder, Reason: err.Error()}
	}
	defer iter.Close()

	var events []domain.CommitEvent
	commits := 0
	err = iter.ForEach(func(c *object.Commit) error {
		// Merges only repeat changes already seen on their parents.
		if c.NumParents() > 1 {
			return nil
		}
		commits++
		paths, err := changedPaths(c)
		if err != nil {
			return fmt.Errorf("commit %s: %w", c.Hash, err)
		}
		for _, p := range paths {
			name, ok := templatePath(prefix, p)
			if !ok {
				continue
			}
			events = append(events, domain.CommitEvent{Path: name, When: c.Author.When, Author: c.Author.Name})
		}
		return nil
	})
	if err != nil {
		return nil, &domain.HistoryUnavailableError{Path: folder, Reason: err.Error()}
	}

	w.logger.Infof("Walked %d commits, %d template changes.", commits, len(events))
	return events, nil
}

// changedPaths lists the paths touched by c. A root commit touches every
// file of its tree.
func changedPaths(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	var paths []string
	if c.NumParents() == 0 {
		err := tree.Files().ForEach(func(f *object.File) error {
			paths = append(paths, f.Name)
			return nil
		})
		return paths, err
	}

	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		paths = append(paths, name)
	}
	return paths, nil
}

// templatePath maps a repository path to a template file name when it is a
// direct *.json child of the folder at prefix.
func templatePath(prefix, p string) (string, bool) {
	if prefix != "" {
		if !strings.HasPrefix(p, prefix+"/") {
			return "", false
		}
		p = strings.TrimPrefix(p, prefix+"/")
	}
	if strings.Contains(p, "/") || path.Ext(p) != ".json" {
		return "", false
	}
	return p, true
}

// FirstSeen returns the earliest event time per template file.
func FirstSeen(events []domain.CommitEvent) map[string]time.Time {
	first := make(map[string]time.Time)
	for _, ev := range events {
		if t, ok := first[ev.Path]; !ok || ev.When.Before(t) {
			first[ev.Path] = ev.When
		}
	}
	return first
}
