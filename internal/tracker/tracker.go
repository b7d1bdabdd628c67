// Package tracker maintains the dedup gate over seen event identifiers and
// the pending map of matched events still inside their revision window.
package tracker

import (
	"sort"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/logger"
	"github.com/rewired-gh/quakeoracle/internal/models"
	"github.com/rewired-gh/quakeoracle/internal/storage"
)

// Gate classifies one observation of an event identifier.
type Gate int

const (
	// GateNew marks the first observation of an identifier.
	GateNew Gate = iota
	// GateDuplicate marks a re-observation with an unchanged magnitude; a no-op.
	GateDuplicate
	// GateRevised marks a re-observation whose magnitude differs from the
	// last recorded one (upstream revision).
	GateRevised
)

// GateResult is the outcome of passing an event through the first-pass gate.
type GateResult struct {
	Gate       Gate
	PrevMag    float64
	PrevHasMag bool
}

// Tracker owns the seen-set and the pending map. All mutation happens on
// the orchestrator's single loop; no locking here.
type Tracker struct {
	store         *storage.Storage
	observations  map[string]*models.Observation
	pending       map[string]*models.PendingRecord
	pendingWindow time.Duration
	retention     time.Duration
}

// New builds a tracker, loading persisted state from storage.
func New(store *storage.Storage, pendingWindow, retention time.Duration) (*Tracker, error) {
	observations, err := store.LoadObservations()
	if err != nil {
		return nil, err
	}
	pending, err := store.LoadPending()
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d seen identifiers and %d pending records", len(observations), len(pending))
	return &Tracker{
		store:         store,
		observations:  observations,
		pending:       pending,
		pendingWindow: pendingWindow,
		retention:     retention,
	}, nil
}

// Observe passes one (identifier, magnitude) observation through the gate
// and records it. A first sighting is GateNew regardless of match outcome,
// so later fetch passes returning the same record do not re-trigger
// top-level alerting. A re-sighting with a changed magnitude is GateRevised;
// the stored magnitude tracks the latest observation (not the max), so a
// downward revision is reported once rather than on every subsequent poll.
func (t *Tracker) Observe(eventID string, mag float64, hasMag bool, now time.Time) GateResult {
	obs, exists := t.observations[eventID]
	if !exists {
		obs = &models.Observation{
			EventID:   eventID,
			FirstSeen: now,
			LastMag:   mag,
			HasMag:    hasMag,
		}
		t.observations[eventID] = obs
		t.persistObservation(obs)
		return GateResult{Gate: GateNew}
	}

	res := GateResult{Gate: GateDuplicate, PrevMag: obs.LastMag, PrevHasMag: obs.HasMag}
	if hasMag && (!obs.HasMag || mag != obs.LastMag) {
		res.Gate = GateRevised
		obs.LastMag = mag
		obs.HasMag = true
		t.persistObservation(obs)
	}
	return res
}

// Upsert creates or updates the pending record for a matched event.
// On creation the expiry is anchored to now and never moved afterwards;
// on update only the magnitude (max) and label union may grow.
func (t *Tracker) Upsert(eventID string, mag float64, occurredAt time.Time, labels []string, now time.Time) *models.PendingRecord {
	rec, exists := t.pending[eventID]
	if !exists {
		rec = &models.PendingRecord{
			EventID:    eventID,
			FirstSeen:  now,
			OccurredAt: occurredAt,
			LatestMag:  mag,
			Labels:     append([]string(nil), labels...),
			ExpiresAt:  now.Add(t.pendingWindow),
		}
		sort.Strings(rec.Labels)
		t.pending[eventID] = rec
	} else {
		if mag > rec.LatestMag {
			rec.LatestMag = mag
		}
		for _, label := range labels {
			if !rec.HasLabel(label) {
				rec.Labels = append(rec.Labels, label)
			}
		}
		sort.Strings(rec.Labels)
	}

	if err := t.store.SavePending(rec); err != nil {
		logger.Warn("Failed to persist pending record for %s: %v", eventID, err)
	}
	return rec
}

// Pending returns the pending record for an identifier, if present.
func (t *Tracker) Pending(eventID string) (*models.PendingRecord, bool) {
	rec, ok := t.pending[eventID]
	return rec, ok
}

// Sweep drops pending records whose expiry has been reached and prunes
// seen identifiers older than the retention horizon. Returns the expired
// pending identifiers.
func (t *Tracker) Sweep(now time.Time) []string {
	var expired []string
	for eventID, rec := range t.pending {
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, eventID)
		}
	}
	for _, eventID := range expired {
		delete(t.pending, eventID)
		if err := t.store.DeletePending(eventID); err != nil {
			logger.Warn("Failed to delete expired pending record %s: %v", eventID, err)
		}
	}

	cutoff := now.Add(-t.retention)
	pruned := 0
	for eventID, obs := range t.observations {
		if obs.FirstSeen.Before(cutoff) {
			delete(t.observations, eventID)
			pruned++
		}
	}
	if pruned > 0 {
		if err := t.store.DeleteObservationsBefore(cutoff); err != nil {
			logger.Warn("Failed to prune seen identifiers: %v", err)
		}
		logger.Debug("Pruned %d seen identifiers past retention", pruned)
	}

	return expired
}

// PendingCount returns the number of live pending records.
func (t *Tracker) PendingCount() int {
	return len(t.pending)
}

// SeenCount returns the number of identifiers in the dedup gate.
func (t *Tracker) SeenCount() int {
	return len(t.observations)
}

func (t *Tracker) persistObservation(obs *models.Observation) {
	if err := t.store.UpsertObservation(obs); err != nil {
		logger.Warn("Failed to persist observation for %s: %v", obs.EventID, err)
	}
}
