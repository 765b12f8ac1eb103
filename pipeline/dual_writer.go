// Package pipeline exports comparison rows through a bounded worker pool to
// CSV, JSONL, or both.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/bookwise/models"
)

// Export formats accepted by NewWriter.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatDual = "dual"
)

// DualWriter fans every batch out to a CSV and a JSONL file.
type DualWriter struct {
	outputs []OutputWriter
	names   []string
}

// NewDualWriter opens both outputs. Nothing is left open on failure.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("open csv output: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("open json output: %w", err)
	}
	return &DualWriter{
		outputs: []OutputWriter{csvWriter, jsonWriter},
		names:   []string{FormatCSV, FormatJSON},
	}, nil
}

// Write appends rows to each output in turn and stops at the first failure.
// Each output serialises its own writes.
func (dw *DualWriter) Write(rows []*models.OfferRow) error {
	for i, out := range dw.outputs {
		if err := out.Write(rows); err != nil {
			return fmt.Errorf("%s: %w", dw.names[i], err)
		}
	}
	return nil
}

// Close closes every output and joins their errors.
func (dw *DualWriter) Close() error {
	return dw.each(OutputWriter.Close)
}

// Validate checks every output.
func (dw *DualWriter) Validate() error {
	return dw.each(OutputWriter.Validate)
}

func (dw *DualWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for i, out := range dw.outputs {
		if err := fn(out); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dw.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// NewWriter opens the writer for format. For dual output the JSONL file sits
// next to path with a .jsonl extension.
func NewWriter(format, path string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return NewCSVWriter(path)
	case FormatJSON:
		return NewJSONWriter(path)
	case FormatDual:
		jsonPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".jsonl"
		return NewDualWriter(path, jsonPath)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
