package pipeline

import (
	"strings"
	"time"

	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/models"
)

// Rows flattens books into one row per offer, marking each book's cheapest
// offer. Books without offers produce no rows.
func Rows(books []models.Book, exportedAt time.Time) []*models.OfferRow {
	var rows []*models.OfferRow
	for _, book := range books {
		cheapest := compare.Cheapest(book.Offers)
		for i, offer := range book.Offers {
			rows = append(rows, &models.OfferRow{
				BookID:     book.BookID,
				Title:      book.Title,
				Authors:    strings.Join(book.Authors, "; "),
				Platform:   offer.Platform,
				PlatformID: offer.PlatformID,
				Price:      offer.Price,
				Currency:   offer.Currency,
				Shipping:   offer.Shipping,
				IsPrime:    offer.Prime(),
				IsCheapest: cheapest != nil && &book.Offers[i] == cheapest,
				Rating:     book.Rating,
				Link:       offer.Link,
				ExportedAt: exportedAt,
			})
		}
	}
	return rows
}
