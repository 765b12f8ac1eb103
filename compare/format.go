package compare

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var currencySymbols = map[string]string{
	"INR": "₹",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// FormatPrice renders a whole-unit price with its currency symbol and Indian
// digit grouping, e.g. ₹1,24,999. Unknown currency codes are used as prefix.
func FormatPrice(price float64, currency string) string {
	if currency == "" {
		currency = "INR"
	}
	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = currency
	}

	rounded := int64(math.Round(price))
	sign := ""
	if rounded < 0 {
		sign = "-"
		rounded = -rounded
	}
	return sign + symbol + groupDigits(strconv.FormatInt(rounded, 10))
}

// groupDigits applies en-IN grouping: the last three digits, then pairs.
func groupDigits(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var groups []string
	for len(head) > 2 {
		groups = append([]string{head[len(head)-2:]}, groups...)
		head = head[:len(head)-2]
	}
	groups = append([]string{head}, groups...)
	return strings.Join(groups, ",") + "," + tail
}

// FormatAuthors renders an author list the way result cards show it.
func FormatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return "Unknown Author"
	case 1:
		return authors[0]
	case 2:
		return authors[0] + " and " + authors[1]
	default:
		return authors[0] + " et al."
	}
}

// FormatRating renders an optional rating with one decimal and a star.
func FormatRating(rating *float64) string {
	if rating == nil {
		return "No rating"
	}
	return fmt.Sprintf("%.1f★", math.Round(*rating*10)/10)
}
