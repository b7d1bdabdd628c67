// Package rules implements the data-driven market rule set and the pure
// classifier that evaluates quake events against it.
package rules

import (
	"fmt"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/config"
	"github.com/rewired-gh/quakeoracle/internal/models"
)

// windowLayout is the config format for rule window bounds, read in the
// reference timezone.
const windowLayout = "2006-01-02 15:04:05"

// Rule is one named market predicate: minimum magnitude, a [start, end]
// window in the reference timezone (inclusive on both ends), and an
// optional geofence. Rules are immutable after loading.
type Rule struct {
	Label        string
	MinMagnitude float64
	WindowStart  time.Time
	WindowEnd    time.Time
	Geofenced    bool
	CenterLat    float64
	CenterLon    float64
	RadiusKm     float64
}

// Matches reports whether the event satisfies this rule. An event without
// a magnitude fails every rule; an event without coordinates fails only
// geofenced rules.
func (r *Rule) Matches(e *models.Event) bool {
	if !e.HasMagnitude || e.Magnitude < r.MinMagnitude {
		return false
	}
	t := e.OccurredAt
	if t.Before(r.WindowStart) || t.After(r.WindowEnd) {
		return false
	}
	if r.Geofenced {
		if !e.HasLocation {
			return false
		}
		if DistanceKm(e.Latitude, e.Longitude, r.CenterLat, r.CenterLon) > r.RadiusKm {
			return false
		}
	}
	return true
}

// Set is an ordered collection of rules sharing one reference timezone.
// Ordering only affects label order in match results; every rule is
// evaluated independently.
type Set struct {
	loc   *time.Location
	rules []Rule
}

// Load builds a rule set from configuration. Window bounds are parsed in
// the configured reference timezone; a start after its end, or a negative
// radius, is a fatal configuration error.
func Load(cfg config.RulesConfig) (*Set, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules timezone %q: %w", cfg.Timezone, err)
	}

	s := &Set{loc: loc, rules: make([]Rule, 0, len(cfg.Markets))}
	for _, rc := range cfg.Markets {
		start, err := time.ParseInLocation(windowLayout, rc.WindowStart, loc)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid window_start: %w", rc.Label, err)
		}
		end, err := time.ParseInLocation(windowLayout, rc.WindowEnd, loc)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid window_end: %w", rc.Label, err)
		}
		if start.After(end) {
			return nil, fmt.Errorf("rule %q: window_start must not be after window_end", rc.Label)
		}
		if rc.RadiusKm < 0 {
			return nil, fmt.Errorf("rule %q: radius_km must not be negative", rc.Label)
		}
		s.rules = append(s.rules, Rule{
			Label:        rc.Label,
			MinMagnitude: rc.MinMagnitude,
			WindowStart:  start,
			WindowEnd:    end,
			Geofenced:    rc.RadiusKm > 0,
			CenterLat:    rc.CenterLat,
			CenterLon:    rc.CenterLon,
			RadiusKm:     rc.RadiusKm,
		})
	}
	return s, nil
}

// Classify returns the labels of every rule the event satisfies, in rule
// order. Pure function: no side effects, deterministic for a given event
// and rule set. Calling it again on the same identifier with a revised
// magnitude may return a larger set; matches are never revoked here.
func (s *Set) Classify(e *models.Event) []string {
	var labels []string
	for i := range s.rules {
		if s.rules[i].Matches(e) {
			labels = append(labels, s.rules[i].Label)
		}
	}
	return labels
}

// Location returns the reference timezone, for formatting event times in
// notifications the same way the windows are defined.
func (s *Set) Location() *time.Location {
	return s.loc
}

// Len returns the number of configured rules.
func (s *Set) Len() int {
	return len(s.rules)
}
