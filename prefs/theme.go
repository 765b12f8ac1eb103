// Package prefs holds process-wide user preferences. Consumers read values
// through accessors and observe changes through Subscribe.
package prefs

import (
	"fmt"
	"slices"
	"sync"
)

// ThemeKey is the store key for the theme preference.
const ThemeKey = "bookwise-theme"

// Theme names a colour scheme.
type Theme string

const (
	ThemeBlue  Theme = "blue"
	ThemeGreen Theme = "green"
	ThemeDark  Theme = "dark"
)

// DefaultTheme is used when nothing valid is persisted.
const DefaultTheme = ThemeBlue

// Themes lists every theme in cycle order.
var Themes = []Theme{ThemeBlue, ThemeGreen, ThemeDark}

// ParseTheme validates name.
func ParseTheme(name string) (Theme, error) {
	for _, t := range Themes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown theme %q (want blue, green or dark)", name)
}

// Next returns the theme after t. Unknown themes restart the cycle.
func (t Theme) Next() Theme {
	for i, candidate := range Themes {
		if candidate == t {
			return Themes[(i+1)%len(Themes)]
		}
	}
	return DefaultTheme
}

// ThemeState is the current theme plus its persistence.
type ThemeState struct {
	store Store

	// change serialises transitions so the store sees them in the same
	// order as subscribers do.
	change sync.Mutex

	mu      sync.Mutex
	theme   Theme
	subs    []themeSubscriber
	nextSub int
}

type themeSubscriber struct {
	id int
	fn func(Theme)
}

// NewThemeState loads the persisted theme, falling back to DefaultTheme when
// the stored value is absent or unknown. A nil store keeps the theme in
// memory only.
func NewThemeState(store Store) (*ThemeState, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	s := &ThemeState{store: store, theme: DefaultTheme}

	raw, ok, err := store.Get(ThemeKey)
	if err != nil {
		return s, fmt.Errorf("load theme: %w", err)
	}
	if ok {
		if t, err := ParseTheme(raw); err == nil {
			s.theme = t
		}
	}
	return s, nil
}

// Current returns the active theme.
func (s *ThemeState) Current() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// Cycle advances blue, green, dark and back to blue.
func (s *ThemeState) Cycle() (Theme, error) {
	return s.update(Theme.Next)
}

// Set switches to t. Unknown themes are rejected without side effects. The
// new theme stays active even when persisting it fails.
func (s *ThemeState) Set(t Theme) error {
	if _, err := ParseTheme(string(t)); err != nil {
		return err
	}
	_, err := s.update(func(Theme) Theme { return t })
	return err
}

// Subscribe registers fn for theme changes and returns its cancel func.
// Subscribers are called in registration order and must not call Set or
// Cycle.
func (s *ThemeState) Subscribe(fn func(Theme)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, themeSubscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub themeSubscriber) bool { return sub.id == id })
	}
}

// update derives the next theme from the current one and switches to it in
// a single step, then notifies and persists.
func (s *ThemeState) update(next func(Theme) Theme) (Theme, error) {
	s.change.Lock()
	defer s.change.Unlock()

	s.mu.Lock()
	t := next(s.theme)
	changed := s.theme != t
	s.theme = t
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	if changed {
		for _, sub := range subs {
			sub.fn(t)
		}
	}
	if err := s.store.Put(ThemeKey, string(t)); err != nil {
		return t, fmt.Errorf("save theme: %w", err)
	}
	return t, nil
}
