package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/bookwise/models"
)

// ErrNoRows is returned by Validate when nothing was exported.
var ErrNoRows = errors.New("no rows exported")

var csvHeader = []string{
	"book_id", "title", "authors", "platform", "platform_id", "price", "currency",
	"shipping", "is_prime", "is_cheapest", "rating", "link", "exported_at",
}

// sink is an export file and the number of rows written to it.
type sink struct {
	mu   sync.Mutex
	kind string
	file *os.File
	rows int
}

func openSink(kind, filename string) (*sink, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &sink{kind: kind, file: f}, nil
}

func (s *sink) validate() error {
	s.mu.Lock()
	rows := s.rows
	s.mu.Unlock()
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", s.kind, s.file.Name(), ErrNoRows)
	}
	if _, err := s.file.Stat(); err != nil {
		return fmt.Errorf("stat %s file: %w", s.kind, err)
	}
	return nil
}

// CSVWriter writes one CSV record per offer row under a fixed header.
type CSVWriter struct {
	*sink
	writer *csv.Writer
}

// NewCSVWriter creates filename, with its directory, and writes the header.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	s, err := openSink("csv", filename)
	if err != nil {
		return nil, err
	}

	cw := &CSVWriter{sink: s, writer: csv.NewWriter(s.file)}
	if err := cw.flush(csvHeader); err != nil {
		s.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// Write appends rows and flushes them to disk.
func (cw *CSVWriter) Write(rows []*models.OfferRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, row := range rows {
		if err := cw.writer.Write(csvRecord(row)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	if err := cw.flush(nil); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	cw.rows += len(rows)
	return nil
}

func (cw *CSVWriter) flush(record []string) error {
	if record != nil {
		if err := cw.writer.Write(record); err != nil {
			return err
		}
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close flushes and closes the file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.flush(nil); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate fails with ErrNoRows when only the header was written.
func (cw *CSVWriter) Validate() error {
	return cw.validate()
}

func csvRecord(row *models.OfferRow) []string {
	rating := ""
	if row.Rating != nil {
		rating = strconv.FormatFloat(*row.Rating, 'f', 1, 64)
	}
	return []string{
		row.BookID,
		row.Title,
		row.Authors,
		row.Platform,
		row.PlatformID,
		strconv.FormatFloat(row.Price, 'f', 2, 64),
		row.Currency,
		row.Shipping,
		strconv.FormatBool(row.IsPrime),
		strconv.FormatBool(row.IsCheapest),
		rating,
		row.Link,
		row.ExportedAt.Format(time.RFC3339),
	}
}

// JSONWriter writes newline-delimited JSON, one offer row per line.
type JSONWriter struct {
	*sink
	buf     *bufio.Writer
	encoder *json.Encoder
}

// NewJSONWriter creates filename, with its directory.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	s, err := openSink("json", filename)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(s.file)
	return &JSONWriter{sink: s, buf: buf, encoder: json.NewEncoder(buf)}, nil
}

// Write appends rows and flushes them to disk.
func (jw *JSONWriter) Write(rows []*models.OfferRow) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, row := range rows {
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	jw.rows += len(rows)
	return nil
}

// Close flushes and closes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.buf.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate fails with ErrNoRows when nothing was written.
func (jw *JSONWriter) Validate() error {
	return jw.validate()
}
