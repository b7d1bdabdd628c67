package heartbeat

import (
	"testing"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/storage"
)

func newTestScheduler(t *testing.T, hour, arming int) (*Scheduler, *storage.Storage) {
	t.Helper()
	s, err := storage.New(1000, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	sched, err := New(s, "UTC", hour, arming)
	if err != nil {
		t.Fatalf("heartbeat.New: %v", err)
	}
	return sched, s
}

func TestDue_FiresExactlyOncePerBucket(t *testing.T) {
	sched, _ := newTestScheduler(t, 16, 5)

	start := time.Date(2025, 11, 1, 16, 0, 0, 0, time.UTC)
	fired := 0
	// Check once per minute for a full hour starting at 16:00.
	for m := 0; m < 60; m++ {
		now := start.Add(time.Duration(m) * time.Minute)
		key, due := sched.Due(now)
		if due {
			fired++
			if err := sched.MarkSent(key); err != nil {
				t.Fatalf("MarkSent: %v", err)
			}
		}
	}
	if fired != 1 {
		t.Errorf("heartbeat fired %d times in one hour, want exactly 1", fired)
	}
}

func TestDue_OutsideTargetHour(t *testing.T) {
	sched, _ := newTestScheduler(t, 16, 5)

	for _, hour := range []int{0, 8, 15, 17, 23} {
		now := time.Date(2025, 11, 1, hour, 0, 0, 0, time.UTC)
		if _, due := sched.Due(now); due {
			t.Errorf("due at hour %d, want only hour 16", hour)
		}
	}
}

func TestDue_OutsideArmingWindow(t *testing.T) {
	sched, _ := newTestScheduler(t, 16, 5)

	now := time.Date(2025, 11, 1, 16, 5, 0, 0, time.UTC)
	if _, due := sched.Due(now); due {
		t.Error("due at minute 5 with a 5 minute arming window, want not due")
	}
	now = time.Date(2025, 11, 1, 16, 4, 59, 0, time.UTC)
	if _, due := sched.Due(now); !due {
		t.Error("not due at minute 4 inside the arming window")
	}
}

func TestDue_NextDayIsNewBucket(t *testing.T) {
	sched, _ := newTestScheduler(t, 16, 5)

	day1 := time.Date(2025, 11, 1, 16, 1, 0, 0, time.UTC)
	key1, due := sched.Due(day1)
	if !due {
		t.Fatal("expected day 1 heartbeat to be due")
	}
	if err := sched.MarkSent(key1); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	day2 := day1.Add(24 * time.Hour)
	key2, due := sched.Due(day2)
	if !due {
		t.Fatal("expected day 2 heartbeat to be due")
	}
	if key2 == key1 {
		t.Errorf("day 2 bucket key %q equals day 1 key", key2)
	}
}

func TestDue_TimezoneConversion(t *testing.T) {
	s, err := storage.New(1000, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer s.Close()
	sched, err := New(s, "Asia/Jerusalem", 16, 5)
	if err != nil {
		t.Fatalf("heartbeat.New: %v", err)
	}

	// 2025-11-01 14:01 UTC is 16:01 in Asia/Jerusalem (UTC+2, no DST in November).
	now := time.Date(2025, 11, 1, 14, 1, 0, 0, time.UTC)
	key, due := sched.Due(now)
	if !due {
		t.Fatal("expected heartbeat due at 16:01 local")
	}
	if key != "2025-11-01T16" {
		t.Errorf("bucket key = %q, want local-time key 2025-11-01T16", key)
	}
}

func TestMarkSent_PersistsAcrossReload(t *testing.T) {
	sched, s := newTestScheduler(t, 16, 5)

	now := time.Date(2025, 11, 1, 16, 0, 0, 0, time.UTC)
	key, due := sched.Due(now)
	if !due {
		t.Fatal("expected due")
	}
	if err := sched.MarkSent(key); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	reloaded, err := New(s, "UTC", 16, 5)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, due := reloaded.Due(now.Add(time.Minute)); due {
		t.Error("reloaded scheduler re-fired inside an already-sent bucket")
	}
}

func TestNew_InvalidTimezone(t *testing.T) {
	s, err := storage.New(1000, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer s.Close()
	if _, err := New(s, "Not/AZone", 16, 5); err == nil {
		t.Error("expected error for invalid timezone")
	}
}
