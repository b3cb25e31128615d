// Package domain contains the core data structures and domain logic for the application.
package domain

// Report is the document published for the statistics dashboard.
// Every slice field is expected to be non-nil so the encoded JSON carries
// empty arrays instead of nulls.
type Report struct {
	LastUpdated         string           `json:"last_updated"`
	Repository          RepositoryInfo   `json:"repository"`
	Summary             Summary          `json:"summary"`
	TemplatesGrowth     []GrowthPoint    `json:"templates_growth"`
	ProvidersGrowth     []GrowthPoint    `json:"providers_growth"`
	PRActivity          []ActivityPoint  `json:"pr_activity"`
	RecordTypes         []RecordTypeStat `json:"record_types"`
	FeatureUsage        []FeatureStat    `json:"feature_usage"`
	TopProvidersAllTime []ProviderRank   `json:"top_providers_all_time"`
	TopProviders30d     []ProviderRank   `json:"top_providers_30d"`
	RecentPRs           []RecentPR       `json:"recent_prs"`
	TopReviewersAllTime []ReviewerRank   `json:"top_reviewers_all_time"`
	TopReviewers30d     []ReviewerRank   `json:"top_reviewers_30d"`
	Contributors        []Contributor    `json:"contributors"`
	Templates           []TemplateRow    `json:"templates"`
	Errors              []ErrorRow       `json:"errors"`
}

// RepositoryInfo identifies the GitHub repository the report was built from.
type RepositoryInfo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// Summary holds the headline scalars of the dashboard.
type Summary struct {
	TotalTemplates        int     `json:"total_templates"`
	TotalProviders        int     `json:"total_providers"`
	TotalMergedPRs        int     `json:"total_merged_prs"`
	TotalOpenPRs          int     `json:"total_open_prs"`
	TotalContributors     int     `json:"total_contributors"`
	AvgRecordsPerTemplate float64 `json:"avg_records_per_template"`
}

// GrowthPoint is one month of a cumulative growth series.
type GrowthPoint struct {
	Month      string `json:"month"`
	Cumulative int    `json:"cumulative"`
	Added      int    `json:"added"`
}

// ActivityPoint is one month of pull request activity.
type ActivityPoint struct {
	Month   string `json:"month"`
	Created int    `json:"created"`
	Merged  int    `json:"merged"`
}

type RecordTypeStat struct {
	Type    string  `json:"type"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type FeatureStat struct {
	Feature string  `json:"feature"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type ProviderRank struct {
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	LogoURL      string `json:"logoUrl"`
	Count        int    `json:"count"`
}

// RecentPR is a pull request shown in the dashboard's activity table.
// Merged is nil for pull requests that have not been merged.
type RecentPR struct {
	Number       int          `json:"number"`
	Title        string       `json:"title"`
	State        string       `json:"state"`
	Labels       []string     `json:"labels"`
	Opened       string       `json:"opened"`
	Merged       *string      `json:"merged"`
	Author       string       `json:"author"`
	AuthorAvatar string       `json:"author_avatar"`
	URL          string       `json:"url"`
	Providers    []string     `json:"providers"`
	Templates    []PRTemplate `json:"templates"`
}

// PRTemplate is a template file touched by a pull request. LogoURL is nil
// for removed files and for templates without a logo.
type PRTemplate struct {
	ProviderID string  `json:"provider_id"`
	ServiceID  string  `json:"service_id"`
	Filename   string  `json:"filename"`
	LogoURL    *string `json:"logo_url"`
	Status     string  `json:"status"`
}

type ReviewerRank struct {
	Rank        int    `json:"rank"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	ReviewCount int    `json:"review_count"`
}

// TemplateRow lists one valid template in the report.
type TemplateRow struct {
	File         string `json:"filename"`
	ProviderID   string `json:"providerId"`
	ServiceID    string `json:"serviceId"`
	ProviderName string `json:"providerName"`
	ServiceName  string `json:"serviceName"`
	LogoURL      string `json:"logoUrl"`
	RecordCount  int    `json:"record_count"`
}

// ErrorRow reports a template file that was excluded from the statistics.
type ErrorRow struct {
	File  string `json:"file"`
	Error string `json:"error"`
}
