package usecase

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/history"
)

const monthLayout = "2006-01"

// Limits bounds the ranked tables of the report.
type Limits struct {
	TopProviders int
	TopReviewers int
	Contributors int
	// Window is the trailing period of the "last 30 days" tables, ending at
	// the run timestamp.
	Window time.Duration
}

// DefaultLimits returns the limits used by the dashboard.
func DefaultLimits() Limits {
	return Limits{
		TopProviders: 20,
		TopReviewers: 5,
		Contributors: 50,
		Window:       30 * 24 * time.Hour,
	}
}

// Inputs are the collected sources of one report.
type Inputs struct {
	Repository domain.Repository
	Templates  []domain.Template
	Invalid    []*domain.ValidationError
	Events     []domain.CommitEvent
	Remote     RemoteData
}

// BuildReport reduces the collected sources into the published report.
// It is a pure function of its arguments: identical inputs give an
// identical report.
func BuildReport(in Inputs, now time.Time, limits Limits) domain.Report {
	templates := append([]domain.Template(nil), in.Templates...)
	sort.Slice(templates, func(i, j int) bool { return templates[i].File < templates[j].File })

	windowStart := now.Add(-limits.Window)
	inWindow := func(t time.Time) bool {
		return !t.Before(windowStart) && !t.After(now)
	}

	firstSeen := templateFirstSeen(templates, history.FirstSeen(in.Events), now)
	prs := in.Remote.PullRequests

	return domain.Report{
		LastUpdated: now.UTC().Format(time.RFC3339),
		Repository: domain.RepositoryInfo{
			Owner: in.Repository.Owner,
			Name:  in.Repository.Name,
			URL:   in.Repository.URL(),
		},
		Summary:             summarize(templates, prs, in.Remote.Contributors),
		TemplatesGrowth:     growthSeries(firstSeen),
		ProvidersGrowth:     growthSeries(providerFirstSeen(templates, firstSeen)),
		PRActivity:          prActivity(prs),
		RecordTypes:         recordTypes(templates),
		FeatureUsage:        featureUsage(templates),
		TopProvidersAllTime: topProviders(templates, func(domain.Template) bool { return true }, limits.TopProviders),
		TopProviders30d: topProviders(templates, func(t domain.Template) bool {
			return inWindow(firstSeen[t.File])
		}, limits.TopProviders),
		RecentPRs:           recentPRs(in.Remote.Recent, templates),
		TopReviewersAllTime: topReviewers(prs, func(domain.PullRequest) bool { return true }, limits.TopReviewers),
		TopReviewers30d: topReviewers(prs, func(pr domain.PullRequest) bool {
			return inWindow(pr.CreatedAt)
		}, limits.TopReviewers),
		Contributors: topContributors(in.Remote.Contributors, limits.Contributors),
		Templates:    templateRows(templates),
		Errors:       errorRows(in.Invalid),
	}
}

// templateFirstSeen dates every valid template. Files absent from history
// have not been committed yet and count as first seen now.
func templateFirstSeen(templates []domain.Template, fromHistory map[string]time.Time, now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(templates))
	for _, t := range templates {
		when, ok := fromHistory[t.File]
		if !ok {
			when = now
		}
		out[t.File] = when
	}
	return out
}

// providerFirstSeen is the earliest first-seen time over each provider's templates.
func providerFirstSeen(templates []domain.Template, firstSeen map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, t := range templates {
		when := firstSeen[t.File]
		if cur, ok := out[t.ProviderID]; !ok || when.Before(cur) {
			out[t.ProviderID] = when
		}
	}
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// growthSeries buckets first-seen times by month. The series opens with a
// zero month before the first addition and has no gaps up to the last one.
func growthSeries(firstSeen map[string]time.Time) []domain.GrowthPoint {
	series := []domain.GrowthPoint{}
	if len(firstSeen) == 0 {
		return series
	}

	added := make(map[string]int)
	var first, last time.Time
	for _, when := range firstSeen {
		m := monthStart(when)
		added[m.Format(monthLayout)]++
		if first.IsZero() || m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}

	cumulative := 0
	for m := first.AddDate(0, -1, 0); !m.After(last); m = m.AddDate(0, 1, 0) {
		n := added[m.Format(monthLayout)]
		cumulative += n
		series = append(series, domain.GrowthPoint{Month: m.Format(monthLayout), Cumulative: cumulative, Added: n})
	}
	return series
}

// prActivity counts created and merged pull requests per month, without gaps.
func prActivity(prs []domain.PullRequest) []domain.ActivityPoint {
	activity := []domain.ActivityPoint{}
	created := make(map[string]int)
	merged := make(map[string]int)
	var first, last time.Time
	observe := func(t time.Time, counts map[string]int) {
		m := monthStart(t.UTC())
		counts[m.Format(monthLayout)]++
		if first.IsZero() || m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}
	for _, pr := range prs {
		observe(pr.CreatedAt, created)
		if pr.IsMerged() {
			observe(*pr.MergedAt, merged)
		}
	}
	if first.IsZero() {
		return activity
	}

	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		key := m.Format(monthLayout)
		activity = append(activity, domain.ActivityPoint{Month: key, Created: created[key], Merged: merged[key]})
	}
	return activity
}

func summarize(templates []domain.Template, prs []domain.PullRequest, contributors []domain.Contributor) domain.Summary {
	providers := make(map[string]bool)
	records := make(stats.Float64Data, 0, len(templates))
	for _, t := range templates {
		providers[t.ProviderID] = true
		records = append(records, float64(t.RecordCount))
	}

	summary := domain.Summary{
		TotalTemplates:    len(templates),
		TotalProviders:    len(providers),
		TotalContributors: len(contributors),
	}
	if mean, err := stats.Mean(records); err == nil {
		summary.AvgRecordsPerTemplate = round(mean, 2)
	}
	for _, pr := range prs {
		if pr.IsMerged() {
			summary.TotalMergedPRs++
		}
		if pr.State == "open" {
			summary.TotalOpenPRs++
		}
	}
	return summary
}

// percent returns count/total as a percentage with one decimal.
func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(count)/float64(total)*100, 1)
}

func round(x float64, places int) float64 {
	r, err := stats.Round(x, places)
	if err != nil {
		return 0
	}
	return r
}

// recordTypes counts, per record type, the templates using it at least once.
func recordTypes(templates []domain.Template) []domain.RecordTypeStat {
	counts := make(map[string]int)
	for _, t := range templates {
		for _, rt := range t.RecordTypes {
			counts[rt]++
		}
	}

	out := make([]domain.RecordTypeStat, 0, len(counts))
	for rt, n := range counts {
		out = append(out, domain.RecordTypeStat{Type: rt, Count: n, Percent: percent(n, len(templates))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// features lists the tracked template flags in display order.
var features = []struct {
	name string
	set  func(domain.Template) bool
}{
	{"syncPubKeyDomain", func(t domain.Template) bool { return t.SyncPubKeyDomain }},
	{"syncRedirectDomain", func(t domain.Template) bool { return t.SyncRedirectDomain }},
	{"warnPhishing", func(t domain.Template) bool { return t.WarnPhishing }},
	{"hostRequired", func(t domain.Template) bool { return t.HostRequired }},
}

func featureUsage(templates []domain.Template) []domain.FeatureStat {
	out := make([]domain.FeatureStat, 0, len(features))
	for _, f := range features {
		n := 0
		for _, t := range templates {
			if f.set(t) {
				n++
			}
		}
		out = append(out, domain.FeatureStat{Feature: f.name, Count: n, Percent: percent(n, len(templates))})
	}
	return out
}

// topProviders ranks providers by the number of their templates accepted by
// include. Name and logo come from the provider's first template file.
func topProviders(templates []domain.Template, include func(domain.Template) bool, limit int) []domain.ProviderRank {
	byID := make(map[string]*domain.ProviderRank)
	for _, t := range templates {
		rank, ok := byID[t.ProviderID]
		if !ok {
			rank = &domain.ProviderRank{ProviderID: t.ProviderID, ProviderName: t.ProviderName, LogoURL: t.LogoURL}
			byID[t.ProviderID] = rank
		}
		if include(t) {
			rank.Count++
		}
	}

	out := make([]domain.ProviderRank, 0, len(byID))
	for _, rank := range byID {
		if rank.Count > 0 {
			out = append(out, *rank)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].ProviderName != out[j].ProviderName {
			return out[i].ProviderName < out[j].ProviderName
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// topReviewers ranks reviewers by the number of distinct pull requests
// accepted by include that they reviewed.
func topReviewers(prs []domain.PullRequest, include func(domain.PullRequest) bool, limit int) []domain.ReviewerRank {
	sorted := append([]domain.PullRequest(nil), prs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	counts := make(map[string]int)
	avatars := make(map[string]string)
	for _, pr := range sorted {
		if !include(pr) {
			continue
		}
		seen := make(map[string]bool)
		for _, r := range pr.Reviewers {
			if seen[r.Username] || strings.EqualFold(r.Username, pr.Author) {
				continue
			}
			seen[r.Username] = true
			counts[r.Username]++
			if _, ok := avatars[r.Username]; !ok {
				avatars[r.Username] = r.Avatar
			}
		}
	}

	out := make([]domain.ReviewerRank, 0, len(counts))
	for name, n := range counts {
		out = append(out, domain.ReviewerRank{Username: name, Avatar: avatars[name], ReviewCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReviewCount != out[j].ReviewCount {
			return out[i].ReviewCount > out[j].ReviewCount
		}
		return out[i].Username < out[j].Username
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// recentPRs lists open pull requests, newest first, then merged ones by
// merge time.
func recentPRs(prs []domain.PullRequest, templates []domain.Template) []domain.RecentPR {
	byFile := make(map[string]domain.Template, len(templates))
	for _, t := range templates {
		byFile[t.File] = t
	}

	sorted := append([]domain.PullRequest(nil), prs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		aOpen, bOpen := a.State == "open", b.State == "open"
		if aOpen != bOpen {
			return aOpen
		}
		if !aOpen && a.IsMerged() && b.IsMerged() && !a.MergedAt.Equal(*b.MergedAt) {
			return a.MergedAt.After(*b.MergedAt)
		}
		return a.Number > b.Number
	})

	out := make([]domain.RecentPR, 0, len(sorted))
	for _, pr := range sorted {
		row := domain.RecentPR{
			Number:       pr.Number,
			Title:        pr.Title,
			State:        pr.State,
			Labels:       append([]string{}, pr.Labels...),
			Opened:       pr.CreatedAt.UTC().Format(time.RFC3339),
			Author:       pr.Author,
			AuthorAvatar: pr.AuthorAvatar,
			URL:          pr.URL,
		}
		row.Templates = pullRequestTemplates(pr.Files, byFile)
		row.Providers = pullRequestProviders(row.Templates)
		if pr.IsMerged() {
			merged := pr.MergedAt.UTC().Format(time.RFC3339)
			row.Merged = &merged
		}
		out = append(out, row)
	}
	return out
}

// pullRequestTemplates lists the template files a pull request touches, in
// the order GitHub returns them. Files that are not known templates, such as
// removed ones, count when they sit at the top level and their name splits
// into provider and service at the first dot.
func pullRequestTemplates(files []domain.PullRequestFile, byFile map[string]domain.Template) []domain.PRTemplate {
	out := []domain.PRTemplate{}
	for _, f := range files {
		row := domain.PRTemplate{Filename: f.Filename, Status: f.Status}
		if t, ok := byFile[path.Base(f.Filename)]; ok {
			row.ProviderID, row.ServiceID = t.ProviderID, t.ServiceID
			if f.Status != "removed" && t.LogoURL != "" {
				logo := t.LogoURL
				row.LogoURL = &logo
			}
		} else {
			stem := strings.TrimSuffix(f.Filename, ".json")
			if stem == f.Filename || strings.Contains(f.Filename, "/") {
				continue
			}
			provider, service, found := strings.Cut(stem, ".")
			if !found {
				continue
			}
			row.ProviderID, row.ServiceID = provider, service
		}
		out = append(out, row)
	}
	return out
}

// pullRequestProviders returns the distinct providers of the touched templates.
func pullRequestProviders(templates []domain.PRTemplate) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, t := range templates {
		if !seen[t.ProviderID] {
			seen[t.ProviderID] = true
			out = append(out, t.ProviderID)
		}
	}
	sort.Strings(out)
	return out
}

func topContributors(contributors []domain.Contributor, limit int) []domain.Contributor {
	out := append([]domain.Contributor{}, contributors...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Contributions != out[j].Contributions {
			return out[i].Contributions > out[j].Contributions
		}
		return out[i].Login < out[j].Login
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func templateRows(templates []domain.Template) []domain.TemplateRow {
	rows := make([]domain.TemplateRow, 0, len(templates))
	for _, t := range templates {
		rows = append(rows, domain.TemplateRow{
			File:         t.File,
			ProviderID:   t.ProviderID,
			ServiceID:    t.ServiceID,
			ProviderName: t.ProviderName,
			ServiceName:  t.ServiceName,
			LogoURL:      t.LogoURL,
			RecordCount:  t.RecordCount,
		})
	}
	return rows
}

func errorRows(invalid []*domain.ValidationError) []domain.ErrorRow {
	rows := make([]domain.ErrorRow, 0, len(invalid))
	for _, e := range invalid {
		rows = append(rows, domain.ErrorRow{File: e.File, Error: e.Reason})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].File < rows[j].File })
	return rows
}
