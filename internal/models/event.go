// Package models defines the core domain entities: quake events, pending
// revision records, and prepared order tickets.
package models

import (
	"errors"
	"time"
)

// Event represents a single earthquake report from the upstream feed.
// Magnitude and location may be absent on preliminary reports; the Has*
// flags distinguish "absent" from a zero value so that a missing magnitude
// is never treated as 0 in threshold comparisons.
type Event struct {
	ID           string    `json:"id"`
	Magnitude    float64   `json:"magnitude"`
	HasMagnitude bool      `json:"has_magnitude"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	HasLocation  bool      `json:"has_location"`
	DepthKm      float64   `json:"depth_km"`
	HasDepth     bool      `json:"has_depth"`
	Place        string    `json:"place,omitempty"`
	URL          string    `json:"url,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Validate checks event field constraints.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("event occurrence time must not be zero")
	}
	if e.HasLocation {
		if e.Latitude < -90 || e.Latitude > 90 {
			return errors.New("latitude must be between -90 and 90")
		}
		if e.Longitude < -180 || e.Longitude > 180 {
			return errors.New("longitude must be between -180 and 180")
		}
	}
	return nil
}

// PendingRecord tracks a matched event through its magnitude-revision window.
// ExpiresAt is fixed at first insertion; LatestMag only grows; Labels is the
// union of every rule label matched across observations.
type PendingRecord struct {
	EventID    string    `json:"event_id"`
	FirstSeen  time.Time `json:"first_seen"`
	OccurredAt time.Time `json:"occurred_at"`
	LatestMag  float64   `json:"latest_mag"`
	Labels     []string  `json:"labels"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// HasLabel reports whether the record already carries the given rule label.
func (r *PendingRecord) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Observation is the per-identifier dedup state: when the identifier was
// first processed and the magnitude it carried on its latest observation.
type Observation struct {
	EventID   string    `json:"event_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastMag   float64   `json:"last_mag"`
	HasMag    bool      `json:"has_mag"`
}

// OrderTicket is a prepared (unsigned) Polymarket buy order for a matched
// market. Full execution requires EIP-712 signing, which is out of scope;
// the ticket carries everything a signer needs.
type OrderTicket struct {
	Label        string    `json:"label"`
	Slug         string    `json:"slug"`
	ConditionID  string    `json:"condition_id"`
	TokenID      string    `json:"token_id"`
	OutcomeIndex int       `json:"outcome_index"`
	Side         string    `json:"side"`
	Price        string    `json:"price"`
	SizeRaw      int64     `json:"size_raw"` // USDC base units (6 decimals)
	AmountUSD    float64   `json:"amount_usd"`
	PreparedAt   time.Time `json:"prepared_at"`
}
