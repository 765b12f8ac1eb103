package client

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/parser"
)

//go:embed catalogue.json
var catalogueJSON []byte

// Placeholders for books the catalogue only knows as search results.
const (
	unknownPublisher   = "Unknown Publisher"
	unknownPublished   = "2025-01-01"
	unknownDescription = "No detailed description available."
	limitedDataReason  = "Limited data available for this book."
)

// generated histories end here and step back historyStep per point.
var (
	historyEnd    = models.NewDate(2025, time.September, 30)
	historyStep   = 15 * 24 * time.Hour
	historyOffset = []float64{50, 30, 10, 40, 20, 0}
)

// MemoryBackend serves a fixed catalogue with simulated latency. Concurrent
// identical lookups share one simulated round trip.
type MemoryBackend struct {
	latency time.Duration
	books   []models.Book
	group   singleflight.Group

	mu     sync.Mutex
	alerts []models.AlertRequest
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithLatency sets the simulated round-trip time.
func WithLatency(d time.Duration) MemoryOption {
	return func(m *MemoryBackend) { m.latency = d }
}

// WithBooks replaces the built-in catalogue.
func WithBooks(books []models.Book) MemoryOption {
	return func(m *MemoryBackend) { m.books = books }
}

// NewMemoryBackend returns a backend over the built-in catalogue.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{books: Catalogue()}
	for _, opt := range opts {
		opt(m)
	}
	for i := range m.books {
		parser.NormalizeBook(&m.books[i])
	}
	return m
}

// Catalogue returns a fresh copy of the built-in books.
func Catalogue() []models.Book {
	var doc struct {
		Books []models.Book `json:"books"`
	}
	if err := json.Unmarshal(catalogueJSON, &doc); err != nil {
		panic(fmt.Sprintf("decode embedded catalogue: %v", err))
	}
	return doc.Books
}

// SearchBooks matches query case-insensitively against titles and authors.
func (m *MemoryBackend) SearchBooks(ctx context.Context, query string, limit int) (models.SearchResultSet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.SearchResultSet{}, nil
	}
	key := "search|" + strings.ToLower(query) + "|" + strconv.Itoa(limit)
	v, err := m.shared(ctx, key, func() (any, error) {
		return m.search(query, limit), nil
	})
	if err != nil {
		return models.SearchResultSet{}, err
	}
	return v.(models.SearchResultSet), nil
}

// GetBookDetail returns the full record, synthesising detail fields for
// books the catalogue only lists.
func (m *MemoryBackend) GetBookDetail(ctx context.Context, bookID string) (models.Book, error) {
	v, err := m.shared(ctx, "detail|"+bookID, func() (any, error) {
		book, ok := m.find(bookID)
		if !ok {
			return nil, notFound(bookID)
		}
		return detail(book), nil
	})
	if err != nil {
		return models.Book{}, err
	}
	return v.(models.Book), nil
}

// GetPriceHistory returns the recorded trend, or a generated one, limited to
// days before the latest point.
func (m *MemoryBackend) GetPriceHistory(ctx context.Context, bookID string, days int) (models.PriceHistory, error) {
	v, err := m.shared(ctx, "history|"+bookID+"|"+strconv.Itoa(days), func() (any, error) {
		book, ok := m.find(bookID)
		if !ok {
			return nil, notFound(bookID)
		}
		return window(history(book), days), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(models.PriceHistory), nil
}

// CreateAlert validates and records req.
func (m *MemoryBackend) CreateAlert(ctx context.Context, req models.AlertRequest) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if _, ok := m.find(req.BookID); !ok {
		return notFound(req.BookID)
	}
	verr := models.NewValidationError()
	if req.TargetPrice < 1 {
		verr.Add("target_price", "Price must be at least 1")
	}
	switch req.NotifyVia {
	case models.NotifyEmail, models.NotifySMS:
	default:
		verr.Add("notify_via", "Choose email or sms")
	}
	if strings.TrimSpace(req.Contact) == "" {
		verr.Add("contact", "Contact is required")
	}
	if !verr.Empty() {
		return verr
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, req)
	m.mu.Unlock()
	return nil
}

// Alerts returns the alerts created so far.
func (m *MemoryBackend) Alerts() []models.AlertRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AlertRequest, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// shared runs fn once per key among concurrent callers. Each caller stops
// waiting when its own ctx ends.
func (m *MemoryBackend) shared(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		if m.latency > 0 {
			time.Sleep(m.latency)
		}
		return fn()
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", key, models.ErrCancelled)
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (m *MemoryBackend) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("create alert: %w", models.ErrCancelled)
	case <-timer.C:
		return nil
	}
}

func (m *MemoryBackend) find(bookID string) (models.Book, bool) {
	for _, b := range m.books {
		if b.BookID == bookID {
			return b, true
		}
	}
	return models.Book{}, false
}

func (m *MemoryBackend) search(query string, limit int) models.SearchResultSet {
	needle := strings.ToLower(query)
	var matched []models.Book
	for _, b := range m.books {
		if matches(b, needle) {
			matched = append(matched, summary(b))
		}
	}
	set := models.SearchResultSet{Query: query, TotalResults: len(matched), Results: matched}
	if limit > 0 && len(set.Results) > limit {
		set.Results = set.Results[:limit]
	}
	if set.Results == nil {
		set.Results = []models.Book{}
	}
	return set
}

func matches(b models.Book, needle string) bool {
	if strings.Contains(strings.ToLower(b.Title), needle) {
		return true
	}
	for _, a := range b.Authors {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}

// summary strips detail-only fields.
func summary(b models.Book) models.Book {
	return models.Book{
		BookID:           b.BookID,
		Title:            b.Title,
		Authors:          append([]string(nil), b.Authors...),
		Cover:            b.Cover,
		Rating:           b.Rating,
		RatingCount:      b.RatingCount,
		Offers:           append([]models.Offer(nil), b.Offers...),
		AIRecommendation: b.AIRecommendation,
	}
}

func detail(b models.Book) models.Book {
	out := b
	out.Authors = append([]string(nil), b.Authors...)
	out.Offers = append([]models.Offer(nil), b.Offers...)
	out.PriceTrend = append(models.PriceHistory(nil), b.PriceTrend...)
	if out.Publisher != "" {
		return out
	}
	out.Publisher = unknownPublisher
	out.PublishedDate = unknownPublished
	out.Description = unknownDescription
	if len(out.Offers) > 0 && len(out.PriceTrend) == 0 {
		price := out.Offers[0].Price
		out.PriceTrend = models.PriceHistory{
			{Date: models.NewDate(2025, time.July, 1), Price: price},
			{Date: historyEnd, Price: price},
		}
	}
	if out.AIRecommendation == nil {
		out.AIRecommendation = &models.AIRecommendation{
			Type:   models.RecommendationBestValue,
			Reason: limitedDataReason,
		}
	}
	return out
}

// history returns the recorded trend or six points 15 days apart derived
// from the first offer's price.
func history(b models.Book) models.PriceHistory {
	if len(b.PriceTrend) > 0 {
		return append(models.PriceHistory(nil), b.PriceTrend...)
	}
	if len(b.Offers) == 0 {
		return models.PriceHistory{}
	}
	base := b.Offers[0].Price
	n := len(historyOffset)
	out := make(models.PriceHistory, 0, n)
	for i, offset := range historyOffset {
		at := historyEnd.Add(-time.Duration(n-1-i) * historyStep)
		out = append(out, models.PricePoint{Date: models.Date{Time: at}, Price: base + offset})
	}
	return out
}

// window keeps the points within days of the latest one. Non-positive days
// keeps everything.
func window(h models.PriceHistory, days int) models.PriceHistory {
	if days <= 0 || len(h) == 0 {
		return h
	}
	cutoff := h[len(h)-1].Date.AddDate(0, 0, -days)
	out := make(models.PriceHistory, 0, len(h))
	for _, p := range h {
		if !p.Date.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func notFound(bookID string) error {
	return models.ErrNotFound{Err: fmt.Errorf("book %q not found", bookID)}
}
