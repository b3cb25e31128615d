package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/naka-gawa/template-stats/internal/config"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/gateway"
	"github.com/naka-gawa/template-stats/internal/history"
	"github.com/naka-gawa/template-stats/internal/report"
	"github.com/naka-gawa/template-stats/internal/store"
	"github.com/naka-gawa/template-stats/internal/template"
	"github.com/naka-gawa/template-stats/internal/usecase"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Regenerates the statistics report from templates, git history and GitHub",
	Long: `Reads every template in the template folder, walks the folder's git
history and fetches pull requests, reviews and contributors from GitHub,
then writes the statistics report and refreshes the reviewer cache.

The GitHub token is read from GITHUB_TOKEN, in the environment or a .env file.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := viper.New()
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
			os.Exit(1)
		}
		configFile, _ := cmd.Flags().GetString("config")

		fs := afero.NewOsFs()
		cfg, err := config.Load(v, fs, configFile, config.DefaultEnvFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, diagnose(err))
			os.Exit(1)
		}
		logger := newLogger(cfg.Verbose)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		result, err := runUpdate(ctx, cfg, fs, logger, time.Now())
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, diagnose(err))
			os.Exit(1)
		}

		printSummary(os.Stdout, result)
	},
}

// updateResult describes a successful run.
type updateResult struct {
	Output string
	Size   int
	Report domain.Report
}

// newFetcher builds the GitHub client of a run.
var newFetcher = func(cfg *config.Config, logger *logrus.Logger) (gateway.Fetcher, error) {
	return gateway.NewGitHubGateway(cfg.Token, gateway.Options{
		MaxRetries:        uint64(cfg.MaxRetries),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Concurrency,
	}, logger)
}

// runUpdate collects all sources and writes the report, then the cache.
// Nothing is written when any source fails.
func runUpdate(ctx context.Context, cfg *config.Config, fs afero.Fs, logger *logrus.Logger, now time.Time) (*updateResult, error) {
	repo := cfg.Repository()
	if !cfg.HasRepository() {
		resolved, err := history.ResolveRepository(cfg.Folder, cfg.Remote)
		if err != nil {
			return nil, err
		}
		repo = resolved
	}
	logger.Infof("Collecting statistics for %s from %s.", repo, cfg.Folder)

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}

	writer, err := report.NewWriter(fs, logger)
	if err != nil {
		return nil, err
	}

	cacheStore := store.NewCacheStore(fs, cfg.Cache, logger)
	cache, err := cacheStore.Load()
	if err != nil {
		return nil, err
	}

	aggregator := usecase.NewAggregator(template.NewReader(fs, logger), history.NewWalker(logger), fetcher, logger)
	rep, nextCache, err := aggregator.Aggregate(ctx, usecase.Request{
		Folder:     cfg.Folder,
		Repository: repo,
		Cache:      cache,
		Remote:     usecase.RemoteOptions{Concurrency: cfg.Concurrency, RecentMerged: 10},
		Limits:     usecase.DefaultLimits(),
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	size, err := writer.Write(cfg.Output, rep)
	if err != nil {
		return nil, err
	}
	if err := cacheStore.Save(nextCache); err != nil {
		return nil, err
	}

	return &updateResult{Output: cfg.Output, Size: size, Report: rep}, nil
}

// diagnose renders a fatal error for the terminal, naming what failed.
func diagnose(err error) string {
	var (
		cfgErr     *domain.ConfigurationError
		fetchErr   *domain.FatalFetchError
		historyErr *domain.HistoryUnavailableError
		schemaErr  *report.SchemaError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "Error: interrupted"
	case errors.As(err, &cfgErr):
		return "Error: " + cfgErr.Reason
	case errors.As(err, &fetchErr):
		return fmt.Sprintf("Error: GitHub request for %s failed after %d attempt(s): %v", fetchErr.Resource, fetchErr.Attempts, fetchErr.Err)
	case errors.As(err, &historyErr):
		return fmt.Sprintf("Error: cannot read git history of %s: %s", historyErr.Path, historyErr.Reason)
	case errors.As(err, &schemaErr):
		return "Error: " + schemaErr.Error()
	default:
		return "Error: " + err.Error()
	}
}

func printSummary(w io.Writer, result *updateResult) {
	rep := result.Report
	if len(rep.Errors) > 0 {
		color.New(color.FgYellow).Fprintf(w, "%d template(s) skipped:\n", len(rep.Errors))
		for _, e := range rep.Errors {
			color.New(color.FgRed).Fprintf(w, "  - %s: %s\n", e.File, e.Error)
		}
	}
	color.New(color.FgGreen).Fprintf(w, "Wrote %s (%s): %d templates, %d providers, %d merged PRs\n",
		result.Output, humanize.Bytes(uint64(result.Size)),
		rep.Summary.TotalTemplates, rep.Summary.TotalProviders, rep.Summary.TotalMergedPRs)
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().String("folder", config.DefaultFolder, "Folder holding the template files")
	updateCmd.Flags().String("repo-owner", "", "GitHub repository owner (default: read from the git remote)")
	updateCmd.Flags().String("repo-name", "", "GitHub repository name (default: read from the git remote)")
	updateCmd.Flags().String("remote", "", "Git remote to read the GitHub repository from")
	updateCmd.Flags().StringP("output", "o", config.DefaultOutput, "Path of the report file")
	updateCmd.Flags().String("cache", config.DefaultCache, "Path of the reviewer cache file")
	updateCmd.Flags().Int("concurrency", config.DefaultConcurrency, "Maximum number of concurrent GitHub requests")
	updateCmd.Flags().Int("max-retries", config.DefaultMaxRetries, "Retries per GitHub request before giving up")
	updateCmd.Flags().String("config", "", "Optional config file (default: ./template-stats.yaml)")
	updateCmd.MarkFlagsRequiredTogether("repo-owner", "repo-name")
	updateCmd.MarkFlagsMutuallyExclusive("remote", "repo-owner")
	updateCmd.MarkFlagsMutuallyExclusive("remote", "repo-name")
}
