// Package alert suggests price-drop thresholds and validates alert requests
// before they are sent to the backend.
package alert

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/models"
)

// SuggestedDiscount is the fraction of the cheapest price proposed as a target.
const SuggestedDiscount = 0.9

// MinTargetPrice is the smallest target price accepted.
const MinTargetPrice = 1

var (
	emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^[0-9]{10}$`)
)

// SuggestTarget returns floor(0.9 * cheapest price). ok is false when there
// are no offers, in which case the user must enter a target.
func SuggestTarget(offers []models.Offer) (target float64, ok bool) {
	cheapest := compare.Cheapest(offers)
	if cheapest == nil {
		return 0, false
	}
	return math.Floor(SuggestedDiscount * cheapest.Price), true
}

// Creator submits alert requests.
type Creator interface {
	CreateAlert(ctx context.Context, req models.AlertRequest) error
}

// Form holds the user's alert input. Submitting never clears it.
type Form struct {
	BookID      string
	TargetPrice *float64
	NotifyVia   string
	Email       string
	Phone       string
	Submitted   bool
}

// NewForm returns a form for book prefilled with the suggested target and
// email notification.
func NewForm(book models.Book) *Form {
	f := &Form{
		BookID:    book.BookID,
		NotifyVia: models.NotifyEmail,
	}
	if target, ok := SuggestTarget(book.Offers); ok {
		f.TargetPrice = &target
	}
	return f
}

// SetTarget sets the target price.
func (f *Form) SetTarget(price float64) {
	f.TargetPrice = &price
}

// Contact returns the contact matching the notification channel.
func (f *Form) Contact() string {
	if f.NotifyVia == models.NotifySMS {
		return strings.TrimSpace(f.Phone)
	}
	return strings.TrimSpace(f.Email)
}

// Validate returns a *models.ValidationError listing every invalid field, or
// nil.
func (f *Form) Validate() error {
	verr := models.NewValidationError()
	if strings.TrimSpace(f.BookID) == "" {
		verr.Add("book_id", "Book is required")
	}

	switch {
	case f.TargetPrice == nil:
		verr.Add("target_price", "Target price is required")
	case math.IsNaN(*f.TargetPrice) || *f.TargetPrice < MinTargetPrice:
		verr.Add("target_price", fmt.Sprintf("Price must be at least %d", MinTargetPrice))
	}

	switch f.NotifyVia {
	case models.NotifyEmail:
		email := strings.TrimSpace(f.Email)
		if email == "" {
			verr.Add("email", "Email is required")
		} else if !emailPattern.MatchString(email) {
			verr.Add("email", "Invalid email address")
		}
	case models.NotifySMS:
		phone := strings.TrimSpace(f.Phone)
		if phone == "" {
			verr.Add("phone", "Phone number is required")
		} else if !phonePattern.MatchString(phone) {
			verr.Add("phone", "Invalid phone number (10 digits required)")
		}
	default:
		verr.Add("notify_via", "Choose email or sms")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

// Request converts a valid form into an alert request.
func (f *Form) Request() (models.AlertRequest, error) {
	if err := f.Validate(); err != nil {
		return models.AlertRequest{}, err
	}
	return models.AlertRequest{
		BookID:      f.BookID,
		TargetPrice: *f.TargetPrice,
		NotifyVia:   f.NotifyVia,
		Contact:     f.Contact(),
	}, nil
}

// Submit validates the form and sends it through creator. Field values are
// kept whatever the outcome so the user can correct and resubmit.
func (f *Form) Submit(ctx context.Context, creator Creator) error {
	req, err := f.Request()
	if err != nil {
		return err
	}
	if err := creator.CreateAlert(ctx, req); err != nil {
		f.Submitted = false
		return fmt.Errorf("create alert: %w", err)
	}
	f.Submitted = true
	return nil
}
