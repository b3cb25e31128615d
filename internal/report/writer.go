// Package report publishes the statistics document consumed by the dashboard.
package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/naka-gawa/template-stats/internal/domain"
	"github.com/naka-gawa/template-stats/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// SchemaError reports a document that does not match the report schema.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "report does not match schema: " + strings.Join(e.Problems, "; ")
}

// Writer encodes, validates and writes reports.
type Writer struct {
	fs     afero.Fs
	schema *gojsonschema.Schema
	logger *logrus.Logger
}

// NewWriter creates a Writer with the embedded report schema.
func NewWriter(fs afero.Fs, logger *logrus.Logger) (*Writer, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("load report schema: %w", err)
	}
	return &Writer{fs: fs, schema: schema, logger: logger}, nil
}

// Encode marshals the report with two-space indentation and checks the
// result against the schema.
func (w *Writer) Encode(r domain.Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := w.Validate(data); err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Validate checks an encoded report against the schema.
func (w *Writer) Validate(data []byte) error {
	result, err := w.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate report: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		problems = append(problems, verr.Field()+": "+verr.Description())
	}
	return &SchemaError{Problems: problems}
}

// Write encodes r and atomically replaces the file at path with it. It
// returns the number of bytes written.
func (w *Writer) Write(path string, r domain.Report) (int, error) {
	data, err := w.Encode(r)
	if err != nil {
		return 0, err
	}
	if err := store.WriteFileAtomic(w.fs, path, data); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}
	w.logger.Debugf("Wrote report to %s.", path)
	return len(data), nil
}
