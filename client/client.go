// Package client talks to the book price backend over HTTP and provides an
// in-memory backend with the same surface for offline use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/bookwise/config"
	"github.com/aluiziolira/bookwise/metrics"
	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/parser"
)

// Backend is the set of operations the sessions consume.
type Backend interface {
	SearchBooks(ctx context.Context, query string, limit int) (models.SearchResultSet, error)
	GetBookDetail(ctx context.Context, bookID string) (models.Book, error)
	GetPriceHistory(ctx context.Context, bookID string, days int) (models.PriceHistory, error)
	CreateAlert(ctx context.Context, req models.AlertRequest) error
}

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*MemoryBackend)(nil)
)

// Client is the HTTP backend. It is safe for concurrent use.
type Client struct {
	baseURL   string
	collector *colly.Collector
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newKey    func() string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
	rps       float64
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newKey    func() string
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) { o.userAgent = ua }
}

// WithRateLimit caps outgoing requests per second. Zero disables the cap.
func WithRateLimit(rps float64) Option {
	return func(o *clientOptions) { o.rps = rps }
}

// WithMetrics records request counters and durations into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLogger sets the logger used for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithIdempotencyKeys overrides the generator for alert Idempotency-Key
// headers.
func WithIdempotencyKeys(fn func() string) Option {
	return func(o *clientOptions) { o.newKey = fn }
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	o := clientOptions{
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	collectorOpts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if o.userAgent != "" {
		collectorOpts = append(collectorOpts, colly.UserAgent(o.userAgent))
	}
	collector := colly.NewCollector(collectorOpts...)
	collector.ParseHTTPErrorResponse = true
	if o.timeout > 0 {
		collector.SetRequestTimeout(o.timeout)
	}
	if o.transport != nil {
		collector.WithTransport(o.transport)
	}

	limit := rate.Inf
	burst := 1
	if o.rps > 0 {
		limit = rate.Limit(o.rps)
		burst = max(1, int(o.rps))
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		collector: collector,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   o.metrics,
		logger:    o.logger,
		newKey:    o.newKey,
	}, nil
}

// NewBackend returns the HTTP client when cfg names a base URL and the
// in-memory backend otherwise.
func NewBackend(cfg *config.Config, m *metrics.Metrics, opts ...Option) (Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.BaseURL == "" {
		return NewMemoryBackend(WithLatency(cfg.MockLatency)), nil
	}
	base := []Option{
		WithTimeout(cfg.Timeout),
		WithUserAgent(cfg.UserAgent),
		WithRateLimit(cfg.RequestsPerSecond),
		WithMetrics(m),
	}
	return New(cfg.BaseURL, append(base, opts...)...)
}

// SearchBooks runs a free-text search. A blank query returns an empty set
// without contacting the backend.
func (c *Client) SearchBooks(ctx context.Context, query string, limit int) (models.SearchResultSet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchResultSet{}, nil
	}
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var set models.SearchResultSet
	if err := c.getJSON(ctx, "search", "/search?"+params.Encode(), &set); err != nil {
		return models.SearchResultSet{}, err
	}
	if set.Query == "" {
		set.Query = query
	}
	parser.NormalizeResultSet(&set)
	return set, nil
}

// GetBookDetail fetches the full record for bookID.
func (c *Client) GetBookDetail(ctx context.Context, bookID string) (models.Book, error) {
	var book models.Book
	if err := c.getJSON(ctx, "detail", "/book/"+url.PathEscape(bookID), &book); err != nil {
		return models.Book{}, err
	}
	if err := parser.ValidateBook(&book); err != nil {
		return models.Book{}, models.ErrNetwork{Err: fmt.Errorf("invalid book payload: %w", err)}
	}
	parser.NormalizeBook(&book)
	return book, nil
}

// GetPriceHistory fetches up to days of price observations, oldest first.
func (c *Client) GetPriceHistory(ctx context.Context, bookID string, days int) (models.PriceHistory, error) {
	params := url.Values{"book_id": {bookID}}
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}
	var history models.PriceHistory
	if err := c.getJSON(ctx, "history", "/price-history?"+params.Encode(), &history); err != nil {
		return nil, err
	}
	return parser.NormalizeHistory(history), nil
}

// CreateAlert registers a price alert. Each call carries a fresh
// Idempotency-Key so the backend can discard replays.
func (c *Client) CreateAlert(ctx context.Context, req models.AlertRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	hdr := http.Header{}
	hdr.Set("Idempotency-Key", c.newKey())
	_, err = c.do(ctx, "alert", http.MethodPost, "/alerts", bytes.NewReader(payload), hdr)
	return err
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, out any) error {
	body, err := c.do(ctx, endpoint, http.MethodGet, path, nil, http.Header{})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		wrapped := models.ErrNetwork{Err: fmt.Errorf("decode %s response: %w", endpoint, err)}
		c.recordFailure(endpoint, c.baseURL+path, wrapped)
		return wrapped
	}
	return nil
}

type response struct {
	status int
	body   []byte
	err    error
}

// do sends one request on a clone of the shared collector. The clone shares
// the HTTP transport but owns its callbacks. When ctx ends first the call
// returns immediately and the in-flight exchange is left to finish unseen.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader, hdr http.Header) ([]byte, error) {
	target := c.baseURL + path
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	c.metrics.IncClientRequest(endpoint, "started")
	start := time.Now()

	hdr.Set("Accept", "application/json")
	if body != nil {
		hdr.Set("Content-Type", "application/json")
	}

	col := c.collector.Clone()
	col.ParseHTTPErrorResponse = true

	done := make(chan response, 1)
	go func() {
		var res response
		col.OnRequest(func(r *colly.Request) {
			if ctx.Err() != nil {
				r.Abort()
			}
		})
		col.OnResponse(func(r *colly.Response) {
			res.status = r.StatusCode
			res.body = r.Body
		})
		res.err = col.Request(method, target, body, nil, hdr)
		done <- res
	}()

	var res response
	select {
	case <-ctx.Done():
		err := classifyTransportError(ctx, ctx.Err())
		c.recordFailure(endpoint, target, err)
		return nil, err
	case res = <-done:
	}
	c.metrics.ObserveClientDuration(time.Since(start))

	var err error
	switch {
	case res.err != nil:
		err = classifyTransportError(ctx, res.err)
	case res.status == 0:
		// Aborted in OnRequest.
		err = fmt.Errorf("%s %s: %w", method, target, models.ErrCancelled)
	case res.status < 200 || res.status > 299:
		err = classifyStatus(res.status, res.body)
	}
	if err != nil {
		c.recordFailure(endpoint, target, err)
		return nil, err
	}

	c.metrics.IncClientRequest(endpoint, "completed")
	return res.body, nil
}

func (c *Client) recordFailure(endpoint, target string, err error) {
	category := errorTypeLabel(err)
	c.metrics.IncClientRequest(endpoint, "failed")
	c.metrics.IncClientError(category)
	if models.IsCancelled(err) {
		c.logger.Debug("request cancelled", slog.String("url", target))
		return
	}
	c.logger.Error("request error",
		slog.String("url", target),
		slog.String("category", category),
		slog.Any("error", err),
	)
}
