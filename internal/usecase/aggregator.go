// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"time"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/gateway"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TemplateReader reads the template files of a folder.
type TemplateReader interface {
	Read(folder string) ([]domain.Template, []*domain.ValidationError, error)
}

// HistoryWalker reads the commit history of a folder.
type HistoryWalker interface {
	Walk(folder string) ([]domain.CommitEvent, error)
}

// Request describes one aggregation run.
type Request struct {
	Folder     string
	Repository domain.Repository
	Cache      domain.ReviewCache
	Remote     RemoteOptions
	Limits     Limits
	Now        time.Time
}

// Aggregator is the use case for building the statistics report.
// It orchestrates the three sources and combines their results.
type Aggregator struct {
	reader  TemplateReader
	walker  HistoryWalker
	fetcher gateway.Fetcher
	logger  *logrus.Logger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(reader TemplateReader, walker HistoryWalker, fetcher gateway.Fetcher, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		reader:  reader,
		walker:  walker,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Aggregate performs the main business logic.
// It collects all sources concurrently and only builds the report once every
// source has finished; the first fatal error cancels the others and is
// returned without a report. The returned cache includes refreshed entries.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) (domain.Report, domain.ReviewCache, error) {
	a.logger.Info("Usecase: Starting data aggregation...")

	var (
		templates []domain.Template
		invalid   []*domain.ValidationError
		events    []domain.CommitEvent
		remote    RemoteData
		cache     domain.ReviewCache
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		templates, invalid, err = a.reader.Read(req.Folder)
		return err
	})

	eg.Go(func() error {
		var err error
		events, err = a.walker.Walk(req.Folder)
		return err
	})

	eg.Go(func() error {
		var err error
		remote, cache, err = FetchRemote(egCtx, a.fetcher, req.Repository, req.Cache, req.Remote, a.logger)
		return err
	})

	if err := eg.Wait(); err != nil {
		return domain.Report{}, nil, err
	}
	a.logger.Info("Usecase: All data fetched successfully.")

	report := BuildReport(Inputs{
		Repository: req.Repository,
		Templates:  templates,
		Invalid:    invalid,
		Events:     events,
		Remote:     remote,
	}, req.Now, req.Limits)

	a.logger.Info("Usecase: Aggregation complete.")
	return report, cache, nil
}
