package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/coordinator"
	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/session"
)

const separator = "--------------------------------------------------"

// syncWriter serialises output from subscription callbacks and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func describeError(err error) string {
	switch models.ErrorKind(err) {
	case "not_found":
		return "not found: " + err.Error()
	case "network":
		return "backend unavailable: " + err.Error()
	case "validation":
		return "invalid input: " + err.Error()
	case "cancelled":
		return "cancelled"
	default:
		return err.Error()
	}
}

func renderSearch(w io.Writer, v session.SearchView) {
	switch {
	case v.Status == coordinator.StatusIdle:
		fmt.Fprintln(w, "Nothing to search yet.")
		return
	case v.Failed():
		fmt.Fprintf(w, "Search for %q failed: %s\n", v.Query, describeError(v.Err))
		return
	case v.Status == coordinator.StatusPending:
		fmt.Fprintf(w, "Searching for %q...\n", v.Query)
		return
	case v.Empty():
		fmt.Fprintf(w, "No books match %q", v.Query)
		if v.Unfiltered > 0 {
			fmt.Fprintf(w, " (%d hidden by filters)", v.Unfiltered)
		}
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "%d of %d results for %q", len(v.Results), v.Total, v.Query)
	if hidden := v.Unfiltered - len(v.Results); hidden > 0 {
		fmt.Fprintf(w, ", %d hidden by filters", hidden)
	}
	if v.Stale {
		fmt.Fprint(w, " (refreshing)")
	}
	fmt.Fprintln(w)

	renderStrip(w, v.Strip)
	fmt.Fprintln(w, separator)
	for i, b := range v.Results {
		renderBookSummary(w, i+1, b)
	}
	if len(v.Suggestions) > 0 {
		fmt.Fprintf(w, "Also try: %s\n", strings.Join(v.Suggestions, "; "))
	}
}

func renderStrip(w io.Writer, s compare.Strip) {
	if s.Empty() {
		return
	}
	if s.Cheapest != nil {
		fmt.Fprintf(w, "  Cheapest:      %s on %s at %s\n", s.Cheapest.Book.Title, s.Cheapest.Offer.Platform, offerPrice(*s.Cheapest.Offer))
	}
	if s.Fastest != nil {
		fmt.Fprintf(w, "  Fastest:       %s on %s (%s)\n", s.Fastest.Book.Title, s.Fastest.Offer.Platform, s.Fastest.Offer.Shipping)
	}
	if r := s.BestOverall; r != nil {
		fmt.Fprintf(w, "  Best overall:  %s", r.Book.Title)
		if r.Reason != "" {
			fmt.Fprintf(w, ": %s", r.Reason)
		}
		fmt.Fprintln(w)
	}
}

func renderBookSummary(w io.Writer, n int, b models.Book) {
	fmt.Fprintf(w, "%2d. %s\n", n, b.Title)
	fmt.Fprintf(w, "    %s | %s | %s\n", compare.FormatAuthors(b.Authors), compare.FormatRating(b.Rating), b.BookID)
	if cheapest := compare.Cheapest(b.Offers); cheapest != nil {
		fmt.Fprintf(w, "    from %s on %s, %d offer(s)\n", offerPrice(*cheapest), cheapest.Platform, len(b.Offers))
	} else {
		fmt.Fprintln(w, "    no offers")
	}
}

func renderDetail(w io.Writer, v session.DetailView) {
	b := v.Book
	fmt.Fprintln(w, b.Title)
	if b.Subtitle != "" {
		fmt.Fprintln(w, b.Subtitle)
	}
	fmt.Fprintf(w, "by %s | %s\n", compare.FormatAuthors(b.Authors), compare.FormatRating(b.Rating))
	if v.Degraded {
		if v.DetailErr != nil {
			fmt.Fprintf(w, "Showing summary only: %s\n", describeError(v.DetailErr))
		}
	} else {
		if b.Publisher != "" {
			fmt.Fprintf(w, "%s, %s", b.Publisher, b.PublishedDate)
			if b.PageCount > 0 {
				fmt.Fprintf(w, ", %d pages", b.PageCount)
			}
			fmt.Fprintln(w)
		}
		if b.Description != "" {
			fmt.Fprintln(w, b.Description)
		}
	}
	fmt.Fprintln(w, separator)

	renderOffers(w, b.Offers, v.Cheapest)
	if v.Fastest != nil {
		fmt.Fprintf(w, "Fastest delivery: %s (%s)\n", v.Fastest.Platform, v.Fastest.Shipping)
	}
	if b.AIRecommendation != nil && b.AIRecommendation.Reason != "" {
		fmt.Fprintf(w, "Recommendation: %s\n", b.AIRecommendation.Reason)
	}
	fmt.Fprintln(w, separator)

	renderTrend(w, v)
	if v.HasSuggestion {
		fmt.Fprintf(w, "Suggested alert target: %s\n", compare.FormatPrice(v.SuggestedTarget, currencyOf(b.Offers)))
	}
}

func renderOffers(w io.Writer, offers []models.Offer, cheapest *models.Offer) {
	if len(offers) == 0 {
		fmt.Fprintln(w, "No offers available.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tPRICE\tSHIPPING\t")
	for i := range offers {
		o := offers[i]
		shipping := o.Shipping
		if shipping == "" {
			shipping = "-"
		}
		marks := ""
		if o.Prime() {
			marks += " prime"
		}
		if cheapest != nil && o.PlatformID == cheapest.PlatformID && o.Platform == cheapest.Platform {
			marks += " cheapest"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Platform, offerPrice(o), shipping, strings.TrimSpace(marks))
	}
	tw.Flush()
}

func renderTrend(w io.Writer, v session.DetailView) {
	switch {
	case v.HistoryErr != nil && len(v.History) == 0:
		fmt.Fprintf(w, "Price history unavailable: %s\n", describeError(v.HistoryErr))
		return
	case len(v.History) == 0:
		fmt.Fprintln(w, "No price history yet.")
		return
	}
	t := v.Trend
	currency := currencyOf(v.Book.Offers)
	fmt.Fprintf(w, "Price history (%d points): %s -> %s, %s %.1f%%\n",
		t.Points, compare.FormatPrice(t.First, currency), compare.FormatPrice(t.Current, currency), t.Direction, t.ChangePercent)
	fmt.Fprintf(w, "Lowest %s on %s, highest %s", compare.FormatPrice(t.Lowest, currency), t.LowestOn, compare.FormatPrice(t.Highest, currency))
	if t.AtLowest() {
		fmt.Fprint(w, " (currently at its lowest)")
	}
	fmt.Fprintln(w)
}

func offerPrice(o models.Offer) string {
	return compare.FormatPrice(o.Price, o.Currency)
}

func currencyOf(offers []models.Offer) string {
	if len(offers) > 0 {
		return offers[0].Currency
	}
	return ""
}
