package filter

import (
	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/models"
)

// Predicate decides whether a book stays in the filtered view.
type Predicate func(book models.Book) bool

// Predicates returns one predicate per active family of s. Families are
// combined with AND; set-valued families match if any member matches.
func Predicates(s State) []Predicate {
	var preds []Predicate
	preds = append(preds, priceRange(s))
	if len(s.Platforms) > 0 {
		platforms := s.Platforms
		preds = append(preds, func(book models.Book) bool {
			return compare.HasPlatform(book.Offers, platforms)
		})
	}
	if s.MinRating > 0 {
		minRating := s.MinRating
		preds = append(preds, func(book models.Book) bool {
			rating, ok := book.RatingValue()
			return ok && rating >= minRating
		})
	}
	for _, flag := range s.Availability {
		switch flag {
		case AvailabilityPrime:
			preds = append(preds, func(book models.Book) bool {
				return compare.HasPrime(book.Offers)
			})
		case AvailabilityFreeShipping:
			preds = append(preds, func(book models.Book) bool {
				return compare.HasFreeShipping(book.Offers)
			})
		}
	}
	return preds
}

// priceRange checks the cheapest offer against the range. Books without
// offers pass only while the range is the default one.
func priceRange(s State) Predicate {
	lo, hi := s.PriceMin, s.PriceMax
	active := s.PriceFilterActive()
	return func(book models.Book) bool {
		cheapest := compare.Cheapest(book.Offers)
		if cheapest == nil {
			return !active
		}
		return cheapest.Price >= lo && cheapest.Price <= hi
	}
}

// Apply returns the books matching every predicate of s, in input order.
// The input slice is not modified.
func Apply(books []models.Book, s State) []models.Book {
	preds := Predicates(s)
	out := make([]models.Book, 0, len(books))
	for _, book := range books {
		if matches(book, preds) {
			out = append(out, book)
		}
	}
	return out
}

func matches(book models.Book, preds []Predicate) bool {
	for _, pred := range preds {
		if !pred(book) {
			return false
		}
	}
	return true
}
