package main

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aluiziolira/bookwise/compare"
	"github.com/aluiziolira/bookwise/filter"
	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/prefs"
	"github.com/aluiziolira/bookwise/session"
)

// SearchCmd runs one search and prints the comparison.
type SearchCmd struct {
	Query        []string `arg:"" optional:"" help:"Search terms."`
	Category     string   `help:"Category to browse when no query is given."`
	Limit        int      `help:"Maximum number of results to fetch."`
	Platform     []string `help:"Only keep books sold on these platforms."`
	MinRating    float64  `help:"Minimum rating, 0 to 5."`
	MinPrice     float64  `help:"Lower price bound."`
	MaxPrice     float64  `help:"Upper price bound."`
	Prime        bool     `help:"Only keep books with a prime offer."`
	FreeShipping bool     `help:"Only keep books with free shipping."`
	Export       bool     `help:"Also export the offers of the shown books."`
}

func (c *SearchCmd) Run(a *app) error {
	query := strings.TrimSpace(strings.Join(c.Query, " "))
	if query == "" && c.Category == "" {
		return errors.New("nothing to search: give a query or --category")
	}

	cfg := *a.cfg
	if c.Limit > 0 {
		cfg.SearchLimit = c.Limit
	}
	opts := append(a.sessionOptions(), session.WithConfig(&cfg))
	s := session.NewSearchSession(a.ctx, a.backend, c.Category, opts...)
	defer s.Close()

	if err := c.applyFilters(s); err != nil {
		return err
	}
	if query != "" {
		s.Input(query)
		s.Submit()
	}

	v, err := s.Await(a.ctx)
	if err != nil {
		return err
	}
	if v.Failed() {
		return fmt.Errorf("search %q: %w", v.Query, v.Err)
	}
	renderSearch(a.out, v)

	if c.Export && len(v.Results) > 0 {
		summary, err := exportBooks(a.ctx, a, a.cfg, v.Results)
		if err != nil {
			return err
		}
		printExportSummary(a.out, summary)
	}
	return nil
}

func (c *SearchCmd) applyFilters(s *session.SearchSession) error {
	for _, p := range c.Platform {
		s.TogglePlatform(p)
	}
	if c.MinRating > 0 {
		if err := s.SetRating(c.MinRating); err != nil {
			return err
		}
	}
	if c.MaxPrice > 0 {
		if err := s.SetPriceBound(1, c.MaxPrice); err != nil {
			return err
		}
	}
	if c.MinPrice > 0 {
		if err := s.SetPriceBound(0, c.MinPrice); err != nil {
			return err
		}
	}
	if c.Prime {
		if err := s.ToggleAvailability(filter.AvailabilityPrime); err != nil {
			return err
		}
	}
	if c.FreeShipping {
		if err := s.ToggleAvailability(filter.AvailabilityFreeShipping); err != nil {
			return err
		}
	}
	return nil
}

// DetailCmd shows one book.
type DetailCmd struct {
	ID   string `arg:"" help:"Book id, e.g. ISBN:9781118063330."`
	Days int    `help:"Price history window in days."`
}

func (c *DetailCmd) Run(a *app) error {
	cfg := *a.cfg
	if c.Days > 0 {
		cfg.HistoryDays = c.Days
	}
	opts := append(a.sessionOptions(), session.WithConfig(&cfg))
	ds := session.NewDetailSession(a.ctx, a.backend, opts...)
	defer ds.Close()

	v, err := ds.Load(a.ctx, models.Book{BookID: c.ID})
	if err != nil {
		return err
	}
	// Without a search summary to fall back on there is nothing to show.
	if v.Degraded && v.DetailErr != nil {
		return fmt.Errorf("book %s: %w", c.ID, v.DetailErr)
	}
	renderDetail(a.out, v)
	return nil
}

// AlertCmd creates a price-drop alert.
type AlertCmd struct {
	ID     string  `arg:"" help:"Book id."`
	Target float64 `help:"Target price. Defaults to 90% of the cheapest offer."`
	Email  string  `xor:"contact" help:"Notify by email."`
	Phone  string  `xor:"contact" help:"Notify by SMS to a 10-digit number."`
}

func (c *AlertCmd) Run(a *app) error {
	ds := session.NewDetailSession(a.ctx, a.backend, a.sessionOptions()...)
	defer ds.Close()

	v, err := ds.Load(a.ctx, models.Book{BookID: c.ID})
	if err != nil {
		return err
	}
	if models.IsNotFound(v.DetailErr) {
		return fmt.Errorf("book %s: %w", c.ID, v.DetailErr)
	}

	form := ds.AlertForm()
	if c.Target > 0 {
		form.SetTarget(c.Target)
	}
	if c.Phone != "" {
		form.NotifyVia = models.NotifySMS
		form.Phone = c.Phone
	} else {
		form.Email = c.Email
	}

	if err := ds.SubmitAlert(a.ctx, form); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			for _, field := range slices.Sorted(maps.Keys(verr.Fields)) {
				fmt.Fprintf(a.out, "  %s: %s\n", field, verr.Fields[field])
			}
		}
		return err
	}

	title := v.Book.Title
	if title == "" {
		title = c.ID
	}
	fmt.Fprintf(a.out, "Alert set: %s will be notified when %s drops below %s\n",
		form.Contact(), title, offerTarget(*form.TargetPrice, v))
	return nil
}

func offerTarget(target float64, v session.DetailView) string {
	return compare.FormatPrice(target, currencyOf(v.Book.Offers))
}

// ThemeCmd groups the theme subcommands.
type ThemeCmd struct {
	Show  ThemeShowCmd  `cmd:"" default:"1" help:"Print the current theme."`
	Cycle ThemeCycleCmd `cmd:"" help:"Switch to the next theme."`
	Set   ThemeSetCmd   `cmd:"" help:"Switch to a named theme."`
}

type ThemeShowCmd struct{}

func (c *ThemeShowCmd) Run(a *app) error {
	state := openTheme(a)
	fmt.Fprintln(a.out, state.Current())
	return nil
}

type ThemeCycleCmd struct{}

func (c *ThemeCycleCmd) Run(a *app) error {
	state := openTheme(a)
	next, err := state.Cycle()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, next)
	return nil
}

type ThemeSetCmd struct {
	Name string `arg:"" help:"blue, green or dark."`
}

func (c *ThemeSetCmd) Run(a *app) error {
	theme, err := prefs.ParseTheme(c.Name)
	if err != nil {
		return err
	}
	state := openTheme(a)
	if err := state.Set(theme); err != nil {
		return err
	}
	fmt.Fprintln(a.out, state.Current())
	return nil
}

// openTheme loads the theme from theme.file, or from the user config
// directory when unset. A corrupt file is reported and the default used.
func openTheme(a *app) *prefs.ThemeState {
	path := a.cfg.ThemeFile
	if path == "" {
		path = defaultThemeFile()
	}
	var store prefs.Store
	if path != "" {
		store = prefs.NewFileStore(path)
	}
	state, err := prefs.NewThemeState(store)
	if err != nil {
		a.logger.Warn("theme preference unreadable, using default",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
	return state
}

func defaultThemeFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bookwise", "prefs.yaml")
}
