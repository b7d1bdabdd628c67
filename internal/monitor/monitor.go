// Package monitor drives the per-cycle pipeline: fetch events, gate and
// classify each one, update pending state, and request notification and
// trade side effects from the external collaborators.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/heartbeat"
	"github.com/rewired-gh/quakeoracle/internal/logger"
	"github.com/rewired-gh/quakeoracle/internal/metrics"
	"github.com/rewired-gh/quakeoracle/internal/models"
	"github.com/rewired-gh/quakeoracle/internal/polymarket"
	"github.com/rewired-gh/quakeoracle/internal/rules"
	"github.com/rewired-gh/quakeoracle/internal/storage"
	"github.com/rewired-gh/quakeoracle/internal/tracker"
)

// Alert kinds recorded in the alert log and metrics.
const (
	AlertCritical = "critical"
	AlertMarket   = "market"
	AlertRevision = "revision"
)

// Feed pulls a batch of events newer than a lower-bound instant.
type Feed interface {
	FetchSince(ctx context.Context, since time.Time) ([]models.Event, error)
	CheckConnection(ctx context.Context) (bool, string)
}

// Notifier pushes human-readable notifications. Failures are logged by the
// monitor, never retried here.
type Notifier interface {
	SendQuakeAlert(e *models.Event, labels []string, loc *time.Location, revision bool, prevMag float64) error
	SendTradeSummary(e *models.Event, tickets []models.OrderTicket, failures map[string]string) error
	SendHeartbeat(bucketKey, feedStatus string, pendingCount, alerts24h int) error
}

// Trader prepares an order for a matched rule label.
type Trader interface {
	PrepareOrder(ctx context.Context, label string) (*models.OrderTicket, error)
}

// Config holds monitor behavior settings.
type Config struct {
	CriticalMagnitude float64
	SafetyMargin      time.Duration
}

// Monitor owns all mutable state (via the tracker) for the lifetime of the
// process. All methods run on one loop; nothing here is safe for
// concurrent use.
type Monitor struct {
	feed     Feed
	notifier Notifier // nil when notifications are disabled
	trader   Trader   // nil when trading is disabled
	store    *storage.Storage
	tracker  *tracker.Tracker
	ruleSet  *rules.Set
	sched    *heartbeat.Scheduler // nil when the heartbeat is disabled
	metrics  *metrics.Metrics
	config   Config

	since time.Time
	now   func() time.Time
}

// New wires a monitor. The initial lower bound is since (typically
// now minus the configured lookback).
func New(
	feed Feed,
	notifier Notifier,
	trader Trader,
	store *storage.Storage,
	tr *tracker.Tracker,
	ruleSet *rules.Set,
	sched *heartbeat.Scheduler,
	m *metrics.Metrics,
	config Config,
	since time.Time,
) *Monitor {
	return &Monitor{
		feed:     feed,
		notifier: notifier,
		trader:   trader,
		store:    store,
		tracker:  tr,
		ruleSet:  ruleSet,
		sched:    sched,
		metrics:  m,
		config:   config,
		since:    since,
		now:      time.Now,
	}
}

// Cycle runs one fetch/classify/update pass, then the expiry sweep and the
// heartbeat check. Only the feed fetch can fail a cycle; collaborator
// failures are logged and swallowed.
func (m *Monitor) Cycle(ctx context.Context) error {
	startTime := m.now()

	events, err := m.feed.FetchSince(ctx, m.since)
	if err != nil {
		m.metrics.CycleFailuresTotal.Inc()
		return err
	}
	logger.Debug("Fetched %d events since %v", len(events), m.since)

	if len(events) > 0 {
		newest := events[0].OccurredAt
		for _, e := range events[1:] {
			if e.OccurredAt.After(newest) {
				newest = e.OccurredAt
			}
		}
		// Back off from the newest instant so the feed's own lag cannot
		// hide late-arriving records from the next pass.
		m.since = newest.Add(-m.config.SafetyMargin)
	}

	for i := range events {
		m.processEvent(ctx, &events[i])
		m.metrics.EventsTotal.Inc()
	}

	if expired := m.tracker.Sweep(m.now()); len(expired) > 0 {
		logger.Info("Expired %d pending records: %v", len(expired), expired)
	}

	m.checkHeartbeat(ctx)

	m.metrics.PendingRecords.Set(float64(m.tracker.PendingCount()))
	m.metrics.SeenIdentifiers.Set(float64(m.tracker.SeenCount()))
	m.metrics.CyclesTotal.Inc()
	m.metrics.CycleDuration.Observe(m.now().Sub(startTime).Seconds())
	return nil
}

// processEvent runs one event through gate -> classify -> upsert -> notify,
// strictly in that order.
func (m *Monitor) processEvent(ctx context.Context, e *models.Event) {
	if err := e.Validate(); err != nil {
		logger.Debug("Skipping malformed event: %v", err)
		return
	}

	now := m.now()
	gate := m.tracker.Observe(e.ID, e.Magnitude, e.HasMagnitude, now)

	switch gate.Gate {
	case tracker.GateDuplicate:
		return

	case tracker.GateNew:
		labels := m.ruleSet.Classify(e)
		critical := e.HasMagnitude && e.Magnitude >= m.config.CriticalMagnitude

		var newLabels []string
		if len(labels) > 0 {
			newLabels = labels
			m.tracker.Upsert(e.ID, e.Magnitude, e.OccurredAt, labels, now)
		}
		if critical || len(labels) > 0 {
			kind := AlertCritical
			if len(labels) > 0 {
				kind = AlertMarket
			}
			m.sendAlert(e, labels, kind, false, 0)
		}
		if len(newLabels) > 0 {
			m.executeTrades(ctx, e, newLabels)
		}
		logger.Info("Processed new event %s (mag=%v labels=%v critical=%v)", e.ID, e.Magnitude, labels, critical)

	case tracker.GateRevised:
		labels := m.ruleSet.Classify(e)
		upward := e.HasMagnitude && (!gate.PrevHasMag || e.Magnitude > gate.PrevMag)

		// Labels the event did not carry before this revision; only these
		// get fresh trade preparation.
		var newLabels []string
		if len(labels) > 0 {
			if rec, ok := m.tracker.Pending(e.ID); ok {
				for _, label := range labels {
					if !rec.HasLabel(label) {
						newLabels = append(newLabels, label)
					}
				}
			} else {
				newLabels = labels
			}
			m.tracker.Upsert(e.ID, e.Magnitude, e.OccurredAt, labels, now)
		}

		critical := e.HasMagnitude && e.Magnitude >= m.config.CriticalMagnitude
		if upward && (critical || len(labels) > 0) {
			m.sendAlert(e, labels, AlertRevision, true, gate.PrevMag)
		}
		if len(newLabels) > 0 {
			m.executeTrades(ctx, e, newLabels)
		}
		logger.Info("Processed revision of %s (mag %v -> %v, labels=%v)", e.ID, gate.PrevMag, e.Magnitude, labels)
	}
}

func (m *Monitor) sendAlert(e *models.Event, labels []string, kind string, revision bool, prevMag float64) {
	if m.notifier != nil {
		if err := m.notifier.SendQuakeAlert(e, labels, m.ruleSet.Location(), revision, prevMag); err != nil {
			logger.Error("Failed to send alert for %s: %v", e.ID, err)
			return
		}
	}
	m.metrics.AlertsTotal.WithLabelValues(kind).Inc()
	if err := m.store.LogAlert(e.ID, e.Magnitude, labels, kind, m.now()); err != nil {
		logger.Warn("Failed to log alert for %s: %v", e.ID, err)
	}
}

// executeTrades prepares one order per matched label and reports the
// outcomes. A label without a mapping is a non-fatal "not configured"
// outcome, not an error.
func (m *Monitor) executeTrades(ctx context.Context, e *models.Event, labels []string) {
	if m.trader == nil {
		logger.Debug("Trading disabled, skipping order preparation for %s (%v)", e.ID, labels)
		return
	}

	var tickets []models.OrderTicket
	failures := make(map[string]string)
	for _, label := range labels {
		ticket, err := m.trader.PrepareOrder(ctx, label)
		if errors.Is(err, polymarket.ErrNotMapped) {
			failures[label] = "no market mapping configured"
			continue
		}
		if err != nil {
			logger.Error("Failed to prepare order for %s (%s): %v", e.ID, label, err)
			failures[label] = err.Error()
			continue
		}
		tickets = append(tickets, *ticket)
		m.metrics.TradesPreparedTotal.Inc()
	}

	if m.notifier != nil {
		if err := m.notifier.SendTradeSummary(e, tickets, failures); err != nil {
			logger.Error("Failed to send trade summary for %s: %v", e.ID, err)
		}
	}
}

// checkHeartbeat fires the daily liveness beacon when due. The bucket key
// is persisted before the send: a crash in between costs one heartbeat
// rather than duplicating it.
func (m *Monitor) checkHeartbeat(ctx context.Context) {
	if m.sched == nil || m.notifier == nil {
		return
	}
	now := m.now()
	key, due := m.sched.Due(now)
	if !due {
		return
	}
	if err := m.sched.MarkSent(key); err != nil {
		logger.Error("Failed to persist heartbeat state, skipping send: %v", err)
		return
	}

	_, feedStatus := m.feed.CheckConnection(ctx)
	alerts24h, err := m.store.AlertCountSince(now.Add(-24 * time.Hour))
	if err != nil {
		logger.Warn("Failed to count recent alerts: %v", err)
	}
	if err := m.notifier.SendHeartbeat(key, feedStatus, m.tracker.PendingCount(), alerts24h); err != nil {
		logger.Error("Failed to send heartbeat: %v", err)
		return
	}
	m.metrics.HeartbeatsTotal.Inc()
	logger.Info("Heartbeat sent for bucket %s", key)
}

// Since returns the current feed lower bound, for logging.
func (m *Monitor) Since() time.Time {
	return m.since
}

// SetClock overrides the monitor's time source. Test hook.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}
