package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/bookwise/config"
	"github.com/aluiziolira/bookwise/metrics"
	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 30 * time.Second

// Row outcomes, also used as the metrics label.
const (
	outcomeWritten   = "written"
	outcomeInvalid   = "invalid"
	outcomeDuplicate = "duplicate"
)

// OutputWriter receives validated export rows in batches.
type OutputWriter interface {
	Write(rows []*models.OfferRow) error
	Close() error
	Validate() error
}

// Stats counts what happened to the rows handed to a pipeline.
type Stats struct {
	Written    int64
	Invalid    int64
	Duplicates int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics counts row outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline validates export rows, drops repeated offers and hands the rest
// to an OutputWriter in batches from a pool of workers.
type Pipeline struct {
	writer    OutputWriter
	rowCh     chan *models.OfferRow
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger

	wg sync.WaitGroup

	// seen holds at most DedupeMaxSize platform ids; the oldest are evicted.
	seen *lru.Cache[string, struct{}]

	written    atomic.Int64
	invalid    atomic.Int64
	duplicates atomic.Int64

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg. Cancelling ctx stops
// accepting new rows; rows already queued are still written.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config, opts ...Option) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	defaults := config.DefaultConfig()
	batchSize := positiveOr(cfg.BatchSize, defaults.BatchSize)
	bufferSize := positiveOr(cfg.PipelineBufferSize, defaults.PipelineBufferSize)
	seen, err := lru.New[string, struct{}](positiveOr(cfg.DedupeMaxSize, defaults.DedupeMaxSize))
	if err != nil {
		// lru only rejects non-positive sizes.
		panic(err)
	}

	p := &Pipeline{
		writer:    writer,
		rowCh:     make(chan *models.OfferRow, bufferSize),
		batchSize: batchSize,
		seen:      seen,
		logger:    slog.Default(),
		shutdown:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.signalShutdown()
			case <-p.shutdown:
			}
		}()
	}
	return p
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if closed, _ := p.state(); closed {
		return
	}
	for range max(workers, 1) {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process queues rows for the workers. It blocks while the buffer is full
// and fails with ErrPipelineClosed once the pipeline shuts down.
func (p *Pipeline) Process(rows ...*models.OfferRow) error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, row := range rows {
		if row == nil {
			continue
		}
		if err := p.enqueue(row); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting rows and waits up to the drain timeout for workers
// to flush what was queued.
func (p *Pipeline) Close() error {
	p.markClosed(nil)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.Err()
	case <-time.After(drainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// Err returns the first write error.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns the row counters so far.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Written:    p.written.Load(),
		Invalid:    p.invalid.Load(),
		Duplicates: p.duplicates.Load(),
	}
}

// ReportProgress logs the counters every interval until shutdown.
func (p *Pipeline) ReportProgress(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				p.logger.Info("export progress",
					slog.Int64("written", s.Written),
					slog.Int64("invalid", s.Invalid),
					slog.Int64("duplicates", s.Duplicates),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.OfferRow, 0, p.batchSize)
	for row := range p.rowCh {
		if !p.accept(row) {
			continue
		}
		batch = append(batch, row)
		if len(batch) < p.batchSize {
			continue
		}
		if err := p.write(batch); err != nil {
			p.markClosed(err)
			return
		}
		batch = batch[:0]
	}

	if len(batch) > 0 {
		if err := p.write(batch); err != nil {
			p.markClosed(err)
		}
	}
}

func (p *Pipeline) write(batch []*models.OfferRow) error {
	if err := p.writer.Write(batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	p.written.Add(int64(len(batch)))
	for range batch {
		p.metrics.IncExportRow(outcomeWritten)
	}
	return nil
}

// accept validates row and normalises it in place. Rows repeating a
// platform id already exported are rejected.
func (p *Pipeline) accept(row *models.OfferRow) bool {
	if err := parser.ValidateOfferRow(row); err != nil {
		p.invalid.Add(1)
		p.metrics.IncExportRow(outcomeInvalid)
		p.logger.Debug("skipping invalid export row", slog.Any("error", err))
		return false
	}
	if found, _ := p.seen.ContainsOrAdd(row.PlatformID, struct{}{}); found {
		p.duplicates.Add(1)
		p.metrics.IncExportRow(outcomeDuplicate)
		return false
	}
	row.Currency = parser.NormalizeCurrency(row.Currency)
	return true
}

func (p *Pipeline) enqueue(row *models.OfferRow) (err error) {
	// rowCh may be closed by a failing worker between the state check and
	// the send.
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.rowCh <- row:
		return nil
	}
}

// markClosed stops intake and records the first non-nil err.
func (p *Pipeline) markClosed(err error) {
	p.mu.Lock()
	p.closed = true
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.rowCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// Export writes the offers of books through a fresh pipeline and validates
// the output. The writer is left open for the caller to close.
func Export(ctx context.Context, writer OutputWriter, cfg *config.Config, books []models.Book, opts ...Option) (Stats, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := NewPipeline(ctx, writer, cfg, opts...)
	p.Start(cfg.ExportWorkers)
	if cfg.Verbose {
		p.ReportProgress(10 * time.Second)
	}

	if err := p.Process(Rows(books, time.Now().UTC())...); err != nil {
		_ = p.Close()
		return p.Stats(), fmt.Errorf("export: %w", err)
	}
	if err := p.Close(); err != nil {
		return p.Stats(), fmt.Errorf("pipeline shutdown: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return p.Stats(), fmt.Errorf("output validation: %w", err)
	}
	return p.Stats(), nil
}
