package parser

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aluiziolira/bookwise/models"
)

// ValidateBook ensures a fetched book carries the fields the views rely on.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.BookID) == "" {
		return fmt.Errorf("book missing id")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title for %s", b.BookID)
	}
	return nil
}

// ValidateOffer checks a single offer.
func ValidateOffer(o models.Offer) error {
	if strings.TrimSpace(o.PlatformID) == "" {
		return fmt.Errorf("offer missing platform id")
	}
	if strings.TrimSpace(o.Platform) == "" {
		return fmt.Errorf("offer %s missing platform", o.PlatformID)
	}
	if o.Price < 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return fmt.Errorf("offer %s has invalid price %v", o.PlatformID, o.Price)
	}
	return nil
}

// ValidateOfferRow ensures an export row is complete.
func ValidateOfferRow(r *models.OfferRow) error {
	if r == nil {
		return fmt.Errorf("row is nil")
	}
	if strings.TrimSpace(r.BookID) == "" {
		return fmt.Errorf("row missing book id")
	}
	if strings.TrimSpace(r.PlatformID) == "" {
		return fmt.Errorf("row missing platform id for %s", r.BookID)
	}
	if r.Price < 0 {
		return fmt.Errorf("row %s has negative price", r.PlatformID)
	}
	return nil
}

// NormalizeCurrency upper-cases the code and defaults it to INR.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return models.DefaultCurrency
	}
	return code
}

// NormalizeBook trims text fields, drops invalid offers, de-duplicates offers
// by platform id keeping the first, defaults currencies and discards ratings
// outside 0-5. Offer order is preserved.
func NormalizeBook(b *models.Book) {
	if b == nil {
		return
	}
	b.BookID = strings.TrimSpace(b.BookID)
	b.Title = strings.TrimSpace(b.Title)

	authors := b.Authors[:0]
	for _, a := range b.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	b.Authors = authors

	if b.Rating != nil && (*b.Rating < 0 || *b.Rating > 5 || math.IsNaN(*b.Rating)) {
		b.Rating = nil
	}
	if b.RatingCount != nil && *b.RatingCount < 0 {
		b.RatingCount = nil
	}
	if b.AIRecommendation != nil && strings.TrimSpace(b.AIRecommendation.Type) == "" {
		b.AIRecommendation = nil
	}

	seen := make(map[string]struct{}, len(b.Offers))
	offers := make([]models.Offer, 0, len(b.Offers))
	for _, o := range b.Offers {
		o.Platform = strings.TrimSpace(o.Platform)
		o.PlatformID = strings.TrimSpace(o.PlatformID)
		o.Shipping = strings.TrimSpace(o.Shipping)
		if err := ValidateOffer(o); err != nil {
			continue
		}
		if _, dup := seen[o.PlatformID]; dup {
			continue
		}
		seen[o.PlatformID] = struct{}{}
		o.Currency = NormalizeCurrency(o.Currency)
		offers = append(offers, o)
	}
	b.Offers = offers

	if len(b.PriceTrend) > 0 {
		b.PriceTrend = NormalizeHistory(b.PriceTrend)
	}
}

// NormalizeHistory returns the points sorted by date, oldest first, without
// negative prices. Points sharing a date keep the last one received.
func NormalizeHistory(h models.PriceHistory) models.PriceHistory {
	out := make(models.PriceHistory, 0, len(h))
	index := make(map[string]int, len(h))
	for _, p := range h {
		if p.Price < 0 || p.Date.IsZero() {
			continue
		}
		key := p.Date.String()
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date.Time)
	})
	return out
}

// NormalizeResultSet normalizes every book and drops the ones that fail
// validation. Relevance order is preserved.
func NormalizeResultSet(rs *models.SearchResultSet) {
	if rs == nil {
		return
	}
	results := make([]models.Book, 0, len(rs.Results))
	for i := range rs.Results {
		b := rs.Results[i]
		NormalizeBook(&b)
		if err := ValidateBook(&b); err != nil {
			continue
		}
		results = append(results, b)
	}
	rs.Results = results
	if rs.TotalResults < len(results) {
		rs.TotalResults = len(results)
	}
}
