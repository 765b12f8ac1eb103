// Package models defines the records exchanged with the book price backend.
package models

import "time"

// DefaultCurrency is applied to offers that arrive without a currency code.
const DefaultCurrency = "INR"

// Recommendation tag types understood by the comparison view.
const (
	RecommendationBestOverall = "best_overall"
	RecommendationBestValue   = "best_value"
)

// Offer is one retailer listing for a book. Offers are unique by PlatformID.
type Offer struct {
	Platform    string     `json:"platform"`
	PlatformID  string     `json:"platform_id"`
	Price       float64    `json:"price"`
	Currency    string     `json:"currency"`
	Shipping    string     `json:"shipping,omitempty"`
	IsPrime     *bool      `json:"is_prime,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	Link        string     `json:"link"`
}

// Prime reports whether the offer is explicitly marked as a prime listing.
func (o Offer) Prime() bool {
	return o.IsPrime != nil && *o.IsPrime
}

// AIRecommendation is an externally supplied recommendation tag.
type AIRecommendation struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Book is a title with its retailer offers. A book with no offers is valid.
type Book struct {
	BookID           string            `json:"book_id"`
	Title            string            `json:"title"`
	Authors          []string          `json:"authors"`
	Cover            string            `json:"cover,omitempty"`
	Rating           *float64          `json:"rating,omitempty"`
	RatingCount      *int              `json:"rating_count,omitempty"`
	Offers           []Offer           `json:"offers"`
	AIRecommendation *AIRecommendation `json:"ai_recommendation,omitempty"`

	// Detail-only fields, empty on search results.
	Subtitle      string       `json:"subtitle,omitempty"`
	Publisher     string       `json:"publisher,omitempty"`
	PublishedDate string       `json:"published_date,omitempty"`
	Description   string       `json:"description,omitempty"`
	PageCount     int          `json:"page_count,omitempty"`
	Categories    []string     `json:"categories,omitempty"`
	Language      string       `json:"language,omitempty"`
	PriceTrend    PriceHistory `json:"price_trend,omitempty"`
}

// RatingValue returns the rating and whether the book carries one.
func (b Book) RatingValue() (float64, bool) {
	if b.Rating == nil {
		return 0, false
	}
	return *b.Rating, true
}

// RecommendationType returns the recommendation tag type or "" when absent.
func (b Book) RecommendationType() string {
	if b.AIRecommendation == nil {
		return ""
	}
	return b.AIRecommendation.Type
}

// PricePoint is a single dated price observation.
type PricePoint struct {
	Date  Date    `json:"date"`
	Price float64 `json:"price"`
}

// PriceHistory is ordered by date, oldest first. It may be empty.
type PriceHistory []PricePoint

// SearchResultSet is the search response; Results keep the source relevance order.
type SearchResultSet struct {
	Query        string `json:"query"`
	TotalResults int    `json:"total_results"`
	Results      []Book `json:"results"`
}

// Notification channels accepted by the alert endpoint.
const (
	NotifyEmail = "email"
	NotifySMS   = "sms"
)

// AlertRequest asks the backend to notify the user when a price drops.
type AlertRequest struct {
	BookID      string  `json:"book_id"`
	TargetPrice float64 `json:"target_price"`
	NotifyVia   string  `json:"notify_via"`
	Contact     string  `json:"contact"`
}

// OfferRow is a flattened (book, offer) pair used by exports.
type OfferRow struct {
	BookID     string    `json:"book_id"`
	Title      string    `json:"title"`
	Authors    string    `json:"authors"`
	Platform   string    `json:"platform"`
	PlatformID string    `json:"platform_id"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Shipping   string    `json:"shipping,omitempty"`
	IsPrime    bool      `json:"is_prime"`
	IsCheapest bool      `json:"is_cheapest"`
	Rating     *float64  `json:"rating,omitempty"`
	Link       string    `json:"link"`
	ExportedAt time.Time `json:"exported_at"`
}
