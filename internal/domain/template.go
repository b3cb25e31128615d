package domain

import "time"

// Template is a parsed and validated service template file.
type Template struct {
	File         string
	ProviderID   string
	ServiceID    string
	ProviderName string
	ServiceName  string
	LogoURL      string

	// RecordTypes holds each DNS record type once, sorted.
	RecordTypes []string
	RecordCount int

	SyncPubKeyDomain   bool
	SyncRedirectDomain bool
	WarnPhishing       bool
	HostRequired       bool
}

// CommitEvent records a commit touching a template file.
type CommitEvent struct {
	Path   string
	When   time.Time
	Author string
}
