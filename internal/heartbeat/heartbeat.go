// Package heartbeat decides when the daily liveness signal is due, using a
// date+hour bucket key to guarantee at most one send per bucket.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/storage"
)

// bucketLayout is the date+hour bucket key format.
const bucketLayout = "2006-01-02T15"

// Scheduler tracks the last-sent bucket key. MarkSent must be called
// before the external send: a crash in between costs one heartbeat, never
// produces a duplicate. Missed buckets are never retried.
type Scheduler struct {
	store        *storage.Storage
	loc          *time.Location
	hour         int
	armingWindow int
	lastKey      string
}

// New builds a scheduler for the given timezone and target hour, loading
// the last-sent bucket key from storage.
func New(store *storage.Storage, timezone string, hour, armingWindowMinutes int) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load heartbeat timezone %q: %w", timezone, err)
	}
	lastKey, err := store.LoadHeartbeatKey()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:        store,
		loc:          loc,
		hour:         hour,
		armingWindow: armingWindowMinutes,
		lastKey:      lastKey,
	}, nil
}

// Due reports whether the heartbeat should be sent now, and the bucket key
// to mark if so. Due when the local hour matches the target, the minute is
// inside the arming window from the top of the hour, and this bucket was
// not already sent.
func (s *Scheduler) Due(now time.Time) (string, bool) {
	local := now.In(s.loc)
	if local.Hour() != s.hour || local.Minute() >= s.armingWindow {
		return "", false
	}
	key := local.Format(bucketLayout)
	if key == s.lastKey {
		return "", false
	}
	return key, true
}

// MarkSent persists the bucket key as sent. Call before the external send.
func (s *Scheduler) MarkSent(key string) error {
	if err := s.store.SaveHeartbeatKey(key); err != nil {
		return err
	}
	s.lastKey = key
	return nil
}
