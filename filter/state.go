// Package filter narrows a search result list with a composable set of
// predicates chosen by the user.
package filter

import (
	"fmt"
	"slices"
)

// Default price range bounds; a range equal to these imposes no narrowing.
const (
	DefaultPriceMin = 0
	DefaultPriceMax = 2000
	MaxRating       = 5
)

// Availability is an availability flag a book can be required to have.
type Availability string

const (
	AvailabilityPrime        Availability = "prime"
	AvailabilityFreeShipping Availability = "free_shipping"
)

// KnownPlatforms lists the retailers offered as platform choices.
var KnownPlatforms = []string{"Amazon", "Flipkart", "Bookswagon"}

// State is the user's current filter selection. Empty Platforms and
// Availability mean "no constraint". It is owned by one view and changed only
// through the methods below.
type State struct {
	PriceMin     float64
	PriceMax     float64
	Platforms    []string
	MinRating    float64
	Availability []Availability
	Category     string
}

// DefaultState returns the unfiltered selection for category.
func DefaultState(category string) State {
	return State{
		PriceMin: DefaultPriceMin,
		PriceMax: DefaultPriceMax,
		Category: category,
	}
}

// Validate checks the state invariants.
func (s State) Validate() error {
	if s.PriceMin < 0 {
		return fmt.Errorf("price min cannot be negative")
	}
	if s.PriceMin > s.PriceMax {
		return fmt.Errorf("price min (%v) cannot exceed price max (%v)", s.PriceMin, s.PriceMax)
	}
	if s.MinRating < 0 || s.MinRating > MaxRating {
		return fmt.Errorf("rating must be between 0 and %d", MaxRating)
	}
	for _, flag := range s.Availability {
		if flag != AvailabilityPrime && flag != AvailabilityFreeShipping {
			return fmt.Errorf("unknown availability flag %q", flag)
		}
	}
	return nil
}

// PriceFilterActive reports whether the price range is narrower than the default.
func (s State) PriceFilterActive() bool {
	return s.PriceMin > DefaultPriceMin || s.PriceMax < DefaultPriceMax
}

// Clone returns a copy that shares no slices with s.
func (s State) Clone() State {
	out := s
	out.Platforms = slices.Clone(s.Platforms)
	out.Availability = slices.Clone(s.Availability)
	return out
}

// TogglePlatform adds platform to the selection or removes it if present.
func (s *State) TogglePlatform(platform string) {
	if i := slices.Index(s.Platforms, platform); i >= 0 {
		s.Platforms = slices.Delete(s.Platforms, i, i+1)
		return
	}
	s.Platforms = append(s.Platforms, platform)
}

// ToggleAvailability adds or removes an availability flag.
func (s *State) ToggleAvailability(flag Availability) error {
	if flag != AvailabilityPrime && flag != AvailabilityFreeShipping {
		return fmt.Errorf("unknown availability flag %q", flag)
	}
	if i := slices.Index(s.Availability, flag); i >= 0 {
		s.Availability = slices.Delete(s.Availability, i, i+1)
		return nil
	}
	s.Availability = append(s.Availability, flag)
	return nil
}

// SetRating sets the minimum rating. Selecting the active rating again clears it.
func (s *State) SetRating(rating float64) error {
	if rating < 0 || rating > MaxRating {
		return fmt.Errorf("rating must be between 0 and %d", MaxRating)
	}
	if rating == s.MinRating {
		s.MinRating = 0
		return nil
	}
	s.MinRating = rating
	return nil
}

// SetPriceBound moves the lower (index 0) or upper (index 1) bound. The other
// bound is dragged along when needed so that min never exceeds max.
func (s *State) SetPriceBound(index int, value float64) error {
	if value < 0 {
		return fmt.Errorf("price bound cannot be negative")
	}
	switch index {
	case 0:
		s.PriceMin = value
		if s.PriceMax < value {
			s.PriceMax = value
		}
	case 1:
		s.PriceMax = value
		if s.PriceMin > value {
			s.PriceMin = value
		}
	default:
		return fmt.Errorf("price bound index must be 0 or 1, got %d", index)
	}
	return nil
}

// Reset restores the defaults, keeping the category.
func (s *State) Reset() {
	*s = DefaultState(s.Category)
}
