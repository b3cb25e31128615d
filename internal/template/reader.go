// Package template reads and validates the service template files of the
// repository.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Files that live next to the templates but are not templates.
var ignoredFiles = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
}

// Reader scans a folder for template files.
type Reader struct {
	fs     afero.Fs
	logger *logrus.Logger
}

// NewReader creates a new Reader on top of fs.
func NewReader(fs afero.Fs, logger *logrus.Logger) *Reader {
	return &Reader{fs: fs, logger: logger}
}

// templateFile mirrors the fields of a template document the statistics need.
// Optional values stay raw so each one can be judged by its own rule, and a
// value of the wrong type is ignored instead of rejecting the template.
type templateFile struct {
	ProviderID         *string            `json:"providerId"`
	ProviderName       *string            `json:"providerName"`
	ServiceID          *string            `json:"serviceId"`
	ServiceName        *string            `json:"serviceName"`
	LogoURL            json.RawMessage    `json:"logoUrl"`
	SyncPubKeyDomain   json.RawMessage    `json:"syncPubKeyDomain"`
	SyncRedirectDomain json.RawMessage    `json:"syncRedirectDomain"`
	WarnPhishing       json.RawMessage    `json:"warnPhishing"`
	HostRequired       json.RawMessage    `json:"hostRequired"`
	Records            *[]json.RawMessage `json:"records"`
}

type templateRecord struct {
	Type json.RawMessage `json:"type"`
}

// Files returns the template file paths in folder, sorted.
// It fails when the folder is missing or holds no template file.
func (r *Reader) Files(folder string) ([]string, error) {
	exists, err := afero.DirExists(r.fs, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to stat template folder %s: %w", folder, err)
	}
	if !exists {
		return nil, domain.NewConfigurationError("template folder %s does not exist", folder)
	}

	matches, err := afero.Glob(r.fs, filepath.Join(folder, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates in %s: %w", folder, err)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if ignoredFiles[filepath.Base(m)] {
			continue
		}
		files = append(files, m)
	}
	if len(files) == 0 {
		return nil, domain.NewConfigurationError("template folder %s contains no template files", folder)
	}
	sort.Strings(files)
	return files, nil
}

// Read parses every template in folder. Malformed templates do not stop the
// scan; they are returned as validation errors and left out of the result.
func (r *Reader) Read(folder string) ([]domain.Template, []*domain.ValidationError, error) {
	r.logger.Infof("Scanning template files in %s...", folder)
	files, err := r.Files(folder)
	if err != nil {
		return nil, nil, err
	}

	templates := make([]domain.Template, 0, len(files))
	var invalid []*domain.ValidationError
	for _, file := range files {
		data, err := afero.ReadFile(r.fs, file)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read template %s: %w", file, err)
		}
		tmpl, verr := Parse(filepath.Base(file), data)
		if verr != nil {
			r.logger.WithField("file", verr.File).Warn(verr.Reason)
			invalid = append(invalid, verr)
			continue
		}
		templates = append(templates, tmpl)
	}

	r.logger.Infof("Parsed %d templates (%d invalid).", len(templates), len(invalid))
	return templates, invalid, nil
}

// Parse decodes and validates a single template document named name.
func Parse(name string, data []byte) (domain.Template, *domain.ValidationError) {
	invalid := func(format string, args ...any) (domain.Template, *domain.ValidationError) {
		return domain.Template{}, &domain.ValidationError{File: name, Reason: fmt.Sprintf(format, args...)}
	}

	var doc templateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalid("malformed JSON: %v", err)
	}

	required := []struct {
		key   string
		value *string
	}{
		{"providerId", doc.ProviderID},
		{"providerName", doc.ProviderName},
		{"serviceId", doc.ServiceID},
		{"serviceName", doc.ServiceName},
	}
	for _, field := range required {
		if field.value == nil || strings.TrimSpace(*field.value) == "" {
			return invalid("missing required field %q", field.key)
		}
	}
	if doc.Records == nil {
		return invalid("missing required field %q", "records")
	}

	identity := *doc.ProviderID + "." + *doc.ServiceID
	if !strings.EqualFold(strings.TrimSuffix(name, ".json"), identity) {
		return invalid("file name does not match providerId.serviceId %q", identity)
	}

	seen := make(map[string]bool)
	types := make([]string, 0, len(*doc.Records))
	for _, raw := range *doc.Records {
		var rec templateRecord
		if json.Unmarshal(raw, &rec) != nil {
			continue
		}
		typ := stringValue(rec.Type)
		if typ == "" || seen[typ] {
			continue
		}
		seen[typ] = true
		types = append(types, typ)
	}
	sort.Strings(types)

	return domain.Template{
		File:               name,
		ProviderID:         *doc.ProviderID,
		ServiceID:          *doc.ServiceID,
		ProviderName:       *doc.ProviderName,
		ServiceName:        *doc.ServiceName,
		LogoURL:            stringValue(doc.LogoURL),
		RecordTypes:        types,
		RecordCount:        len(*doc.Records),
		SyncPubKeyDomain:   nonEmptyString(doc.SyncPubKeyDomain),
		SyncRedirectDomain: nonEmptyString(doc.SyncRedirectDomain),
		WarnPhishing:       literalTrue(doc.WarnPhishing),
		HostRequired:       literalTrue(doc.HostRequired),
	}, nil
}

// stringValue returns raw as a string, or "" when it holds anything else.
func stringValue(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// nonEmptyString holds for a flag present as a non-blank string.
func nonEmptyString(raw json.RawMessage) bool {
	return strings.TrimSpace(stringValue(raw)) != ""
}

// literalTrue holds only for the JSON literal true.
func literalTrue(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
}
