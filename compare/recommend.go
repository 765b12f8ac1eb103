package compare

import "github.com/aluiziolira/bookwise/models"

// Source tells how a recommendation was chosen.
type Source int

const (
	// SourceTagged means the backend tagged the book as best overall or best value.
	SourceTagged Source = iota + 1
	// SourceDerived means no book was tagged and the globally cheapest offer won.
	SourceDerived
)

func (s Source) String() string {
	switch s {
	case SourceTagged:
		return "tagged"
	case SourceDerived:
		return "derived"
	default:
		return "none"
	}
}

// Pick is a book together with the offer that earned it a place in the
// comparison. Both pointers alias the input slices.
type Pick struct {
	Book  *models.Book
	Offer *models.Offer
}

// Recommendation is the best overall pick and how it was selected.
type Recommendation struct {
	Pick
	Source Source
	Reason string
}

// Tagged returns the first book tagged best_overall or best_value, or nil.
func Tagged(books []models.Book) *models.Book {
	for i := range books {
		switch books[i].RecommendationType() {
		case models.RecommendationBestOverall, models.RecommendationBestValue:
			return &books[i]
		}
	}
	return nil
}

// CheapestAcross returns the book holding the lowest priced offer in the set.
// Books without offers are skipped; ties keep the earlier book.
func CheapestAcross(books []models.Book) *Pick {
	var best *Pick
	for i := range books {
		offer := Cheapest(books[i].Offers)
		if offer == nil {
			continue
		}
		if best == nil || offer.Price < best.Offer.Price {
			best = &Pick{Book: &books[i], Offer: offer}
		}
	}
	return best
}

// FastestAcross returns the first book with a fast delivery offer.
func FastestAcross(books []models.Book) *Pick {
	for i := range books {
		if offer := FastestDelivery(books[i].Offers); offer != nil {
			return &Pick{Book: &books[i], Offer: offer}
		}
	}
	return nil
}

// BestOverall selects the top recommendation. A tagged book wins; otherwise
// the book with the globally cheapest offer is returned as SourceDerived.
// It returns nil when the set is empty or nothing has an offer.
func BestOverall(books []models.Book) *Recommendation {
	if book := Tagged(books); book != nil {
		return &Recommendation{
			Pick:   Pick{Book: book, Offer: Cheapest(book.Offers)},
			Source: SourceTagged,
			Reason: book.AIRecommendation.Reason,
		}
	}
	if pick := CheapestAcross(books); pick != nil {
		return &Recommendation{Pick: *pick, Source: SourceDerived, Reason: "Lowest price across all results"}
	}
	return nil
}

// Strip is the comparison summary shown above a result list.
type Strip struct {
	Cheapest    *Pick
	Fastest     *Pick
	BestOverall *Recommendation
}

// Empty reports whether no highlight could be derived.
func (s Strip) Empty() bool {
	return s.Cheapest == nil && s.Fastest == nil && s.BestOverall == nil
}

// NewStrip derives every highlight for books.
func NewStrip(books []models.Book) Strip {
	return Strip{
		Cheapest:    CheapestAcross(books),
		Fastest:     FastestAcross(books),
		BestOverall: BestOverall(books),
	}
}
