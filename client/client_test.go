package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/bookwise/metrics"
	"github.com/aluiziolira/bookwise/models"
)

const testBaseURL = "https://api.test/api"

func newTestClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport, *metrics.Metrics) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	m := metrics.NewMetrics()
	base := []Option{
		WithTransport(transport),
		WithMetrics(m),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	c, err := New(testBaseURL, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, transport, m
}

func TestNewRejectsBaseURLWithoutHost(t *testing.T) {
	if _, err := New("/api"); err == nil {
		t.Fatalf("expected error for base url without host")
	}
}

func TestClassifyTransportError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		err      error
		expected string
	}{
		{name: "context timeout", ctx: context.Background(), err: context.DeadlineExceeded, expected: "timeout"},
		{name: "net timeout", ctx: context.Background(), err: &net.DNSError{IsTimeout: true}, expected: "timeout"},
		{name: "connection", ctx: context.Background(), err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection"},
		{name: "other transport", ctx: context.Background(), err: errors.New("boom"), expected: "network"},
		{name: "cancelled", ctx: cancelled, err: errors.New("aborted"), expected: "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyTransportError(tt.ctx, tt.err)); got != tt.expected {
				t.Fatalf("classifyTransportError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"message":"Book not found"}`, expected: "not_found"},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"errors":{"contact":"Invalid email address"}}`, expected: "validation"},
		{name: "bad request", status: http.StatusBadRequest, body: ``, expected: "validation"},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, expected: "network"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: ``, expected: "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.ErrorKind(classifyStatus(tt.status, []byte(tt.body))); got != tt.expected {
				t.Fatalf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatusFieldMessages(t *testing.T) {
	err := classifyStatus(http.StatusUnprocessableEntity,
		[]byte(`{"errors":{"contact":["Invalid email address","too long"],"target_price":"Price must be at least 1"}}`))

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if got := verr.Field("contact"); got != "Invalid email address" {
		t.Fatalf("contact message = %q", got)
	}
	if got := verr.Field("target_price"); got != "Price must be at least 1" {
		t.Fatalf("target_price message = %q", got)
	}

	err = classifyStatus(http.StatusBadRequest, []byte(`{"message":"query too short"}`))
	if !errors.As(err, &verr) || verr.Field("") != "query too short" {
		t.Fatalf("expected message fallback, got %v", err)
	}
}

func TestSearchBooksNormalizesResults(t *testing.T) {
	c, transport, _ := newTestClient(t)
	body := `{
		"query": "operating",
		"total_results": 1,
		"results": [
			{"book_id": "b1", "title": " Operating System Concepts ", "authors": ["Abraham Silberschatz", ""],
			 "offers": [
				{"platform": "Amazon", "platform_id": "amazon:1", "price": 599, "currency": ""},
				{"platform": "Amazon", "platform_id": "amazon:1", "price": 499, "currency": "INR"},
				{"platform": "Flipkart", "platform_id": "flipkart:1", "price": 649, "currency": "inr"}
			 ]},
			{"book_id": "", "title": "missing id"}
		]
	}`
	transport.RegisterResponderWithQuery(http.MethodGet, testBaseURL+"/search", "q=operating&limit=10",
		httpmock.NewStringResponder(http.StatusOK, body))

	set, err := c.SearchBooks(context.Background(), "  operating ", 10)
	if err != nil {
		t.Fatalf("SearchBooks() error = %v", err)
	}
	if len(set.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(set.Results))
	}
	book := set.Results[0]
	if book.Title != "Operating System Concepts" {
		t.Fatalf("title = %q", book.Title)
	}
	if len(book.Authors) != 1 {
		t.Fatalf("authors = %v", book.Authors)
	}
	if len(book.Offers) != 2 {
		t.Fatalf("offers = %d, want 2 after de-dup", len(book.Offers))
	}
	if book.Offers[0].Price != 599 || book.Offers[0].Currency != "INR" {
		t.Fatalf("first offer = %+v", book.Offers[0])
	}
	if book.Offers[1].Currency != "INR" {
		t.Fatalf("currency = %q, want INR", book.Offers[1].Currency)
	}
}

func TestSearchBooksBlankQuerySkipsRequest(t *testing.T) {
	c, transport, _ := newTestClient(t)

	set, err := c.SearchBooks(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("SearchBooks() error = %v", err)
	}
	if len(set.Results) != 0 || set.TotalResults != 0 {
		t.Fatalf("expected empty set, got %+v", set)
	}
	if calls := transport.GetTotalCallCount(); calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestGetBookDetail(t *testing.T) {
	c, transport, m := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/book/ISBN:9781118063330",
		httpmock.NewStringResponder(http.StatusOK, `{
			"book_id": "ISBN:9781118063330",
			"title": "Operating System Concepts",
			"authors": ["Abraham Silberschatz"],
			"publisher": "Wiley",
			"offers": [{"platform": "Amazon", "platform_id": "amazon:ASIN123", "price": 599, "currency": "INR"}],
			"price_trend": [{"date": "2025-09-01", "price": 609}, {"date": "2025-07-01", "price": 649}]
		}`))

	book, err := c.GetBookDetail(context.Background(), "ISBN:9781118063330")
	if err != nil {
		t.Fatalf("GetBookDetail() error = %v", err)
	}
	if book.Publisher != "Wiley" {
		t.Fatalf("publisher = %q", book.Publisher)
	}
	if len(book.PriceTrend) != 2 || book.PriceTrend[0].Price != 649 {
		t.Fatalf("price trend not ordered: %+v", book.PriceTrend)
	}
	if got := testutil.ToFloat64(m.ClientRequests.WithLabelValues("detail", "completed")); got != 1 {
		t.Fatalf("completed detail requests = %v, want 1", got)
	}
}

func TestGetBookDetailNotFound(t *testing.T) {
	c, transport, m := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/book/missing",
		httpmock.NewStringResponder(http.StatusNotFound, `{"message":"Book not found"}`))

	_, err := c.GetBookDetail(context.Background(), "missing")
	if !models.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := testutil.ToFloat64(m.ClientErrors.WithLabelValues("not_found")); got != 1 {
		t.Fatalf("not_found errors = %v, want 1", got)
	}
}

func TestGetPriceHistory(t *testing.T) {
	c, transport, _ := newTestClient(t)
	transport.RegisterResponderWithQuery(http.MethodGet, testBaseURL+"/price-history", "book_id=b1&days=90",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"date": "2025-09-30", "price": 599},
			{"date": "2025-07-01", "price": 649},
			{"date": "2025-08-01", "price": -1}
		]`))

	history, err := c.GetPriceHistory(context.Background(), "b1", 90)
	if err != nil {
		t.Fatalf("GetPriceHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("points = %d, want 2", len(history))
	}
	if history[0].Date.String() != "2025-07-01" || history[1].Date.String() != "2025-09-30" {
		t.Fatalf("history not ordered: %v, %v", history[0].Date, history[1].Date)
	}
}

func TestCreateAlertSendsJSONWithIdempotencyKey(t *testing.T) {
	c, transport, _ := newTestClient(t, WithIdempotencyKeys(func() string { return "key-1" }))

	var got models.AlertRequest
	var gotKey, gotType string
	transport.RegisterResponder(http.MethodPost, testBaseURL+"/alerts",
		func(req *http.Request) (*http.Response, error) {
			gotKey = req.Header.Get("Idempotency-Key")
			gotType = req.Header.Get("Content-Type")
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusCreated, `{"status":"created"}`), nil
		})

	req := models.AlertRequest{BookID: "b1", TargetPrice: 539, NotifyVia: models.NotifyEmail, Contact: "a@b.co"}
	if err := c.CreateAlert(context.Background(), req); err != nil {
		t.Fatalf("CreateAlert() error = %v", err)
	}
	if got != req {
		t.Fatalf("payload = %+v, want %+v", got, req)
	}
	if gotKey != "key-1" {
		t.Fatalf("Idempotency-Key = %q", gotKey)
	}
	if gotType != "application/json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
}

func TestCreateAlertValidationFailure(t *testing.T) {
	c, transport, _ := newTestClient(t)
	transport.RegisterResponder(http.MethodPost, testBaseURL+"/alerts",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"errors":{"contact":"Invalid email address"}}`))

	err := c.CreateAlert(context.Background(), models.AlertRequest{BookID: "b1", TargetPrice: 1, NotifyVia: "email", Contact: "x"})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Field("contact") != "Invalid email address" {
		t.Fatalf("fields = %v", verr.Fields)
	}
}

func TestServerAndTransportFailuresAreNetwork(t *testing.T) {
	c, transport, _ := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/book/b1",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"message":"boom"}`))
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/book/b2",
		httpmock.NewErrorResponder(errors.New("connection reset")))
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/book/b3",
		httpmock.NewStringResponder(http.StatusOK, `not json`))

	for _, id := range []string{"b1", "b2", "b3"} {
		_, err := c.GetBookDetail(context.Background(), id)
		if kind := models.ErrorKind(err); kind != "network" {
			t.Fatalf("%s: kind = %q, want network (err=%v)", id, kind, err)
		}
	}
}

func TestCancelledRequestReturnsCancelled(t *testing.T) {
	c, transport, _ := newTestClient(t)
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/book/slow",
		func(*http.Request) (*http.Response, error) {
			close(started)
			<-release
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetBookDetail(ctx, "slow")
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if !models.IsCancelled(err) {
			t.Fatalf("expected cancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("request did not return after cancellation")
	}
}

func TestAlreadyCancelledContextSkipsRequest(t *testing.T) {
	c, transport, _ := newTestClient(t, WithRateLimit(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetBookDetail(ctx, "b1")
	if !models.IsCancelled(err) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if calls := transport.GetTotalCallCount(); calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}
