package rules

import (
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/config"
	"github.com/rewired-gh/quakeoracle/internal/models"
)

func mustLoad(t *testing.T, cfg config.RulesConfig) *Set {
	t.Helper()
	s, err := Load(cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func quake(id string, mag float64, lat, lon float64, at time.Time) *models.Event {
	return &models.Event{
		ID:           id,
		Magnitude:    mag,
		HasMagnitude: true,
		Latitude:     lat,
		Longitude:    lon,
		HasLocation:  true,
		OccurredAt:   at,
	}
}

func TestDistanceKm(t *testing.T) {
	// Los Angeles to San Diego is roughly 179 km great-circle.
	d := DistanceKm(34.0522, -118.2437, 32.7157, -117.1611)
	if d < 170 || d > 190 {
		t.Errorf("LA-SD distance = %.1f km, want ~179", d)
	}
	if d := DistanceKm(34.05, -118.24, 34.05, -118.24); d != 0 {
		t.Errorf("zero distance = %f, want 0", d)
	}
	// Antipodal points are half the circumference apart.
	half := math.Pi * earthRadiusKm
	if d := DistanceKm(0, 0, 0, 180); math.Abs(d-half) > 1 {
		t.Errorf("antipodal distance = %.1f km, want %.1f", d, half)
	}
}

func TestClassifyWindowBoundaries(t *testing.T) {
	set := mustLoad(t, config.RulesConfig{
		Timezone: "UTC",
		Markets: []config.RuleConfig{
			{
				Label:        "mega",
				MinMagnitude: 8.0,
				WindowStart:  "2025-10-30 00:00:00",
				WindowEnd:    "2025-11-30 23:59:59",
			},
		},
	})

	start := time.Date(2025, 10, 30, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 11, 30, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"exactly at start", start, 1},
		{"exactly at end", end, 1},
		{"just before start", start.Add(-time.Second), 0},
		{"just after end", end.Add(time.Second), 0},
		{"mid window", start.Add(12 * time.Hour), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := set.Classify(quake("q", 8.2, 0, 0, tt.at))
			if len(got) != tt.want {
				t.Errorf("Classify at %v matched %d rules, want %d", tt.at, len(got), tt.want)
			}
		})
	}
}

func TestClassifyMagnitudeThresholdInclusive(t *testing.T) {
	set := mustLoad(t, config.RulesConfig{
		Timezone: "UTC",
		Markets: []config.RuleConfig{
			{Label: "m65", MinMagnitude: 6.5, WindowStart: "2025-01-01 00:00:00", WindowEnd: "2025-12-31 23:59:59"},
		},
	})
	at := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	if got := set.Classify(quake("q", 6.5, 0, 0, at)); len(got) != 1 {
		t.Errorf("magnitude exactly at threshold should match, got %v", got)
	}
	if got := set.Classify(quake("q", 6.49, 0, 0, at)); len(got) != 0 {
		t.Errorf("magnitude below threshold should not match, got %v", got)
	}
}

func TestClassifyReferenceTimezone(t *testing.T) {
	// Window defined in New York time; the event instant is in UTC.
	// 2025-06-09 00:00:00 ET is 2025-06-09 04:00:00 UTC (EDT, UTC-4).
	set := mustLoad(t, config.RulesConfig{
		Timezone: "America/New_York",
		Markets: []config.RuleConfig{
			{Label: "la", MinMagnitude: 6.5, WindowStart: "2025-06-09 00:00:00", WindowEnd: "2025-12-31 23:59:59"},
		},
	})

	before := time.Date(2025, 6, 9, 3, 59, 59, 0, time.UTC)
	after := time.Date(2025, 6, 9, 4, 0, 0, 0, time.UTC)

	if got := set.Classify(quake("q", 7.0, 0, 0, before)); len(got) != 0 {
		t.Errorf("event before ET window start should not match, got %v", got)
	}
	if got := set.Classify(quake("q", 7.0, 0, 0, after)); len(got) != 1 {
		t.Errorf("event at ET window start should match, got %v", got)
	}
}

func TestClassifyGeofence(t *testing.T) {
	set := mustLoad(t, config.RulesConfig{
		Timezone: "UTC",
		Markets: []config.RuleConfig{
			{
				Label:        "la_50mi",
				MinMagnitude: 6.5,
				WindowStart:  "2025-01-01 00:00:00",
				WindowEnd:    "2025-12-31 23:59:59",
				CenterLat:    34.0522,
				CenterLon:    -118.2437,
				RadiusKm:     80.4672,
			},
		},
	})
	at := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	// Downtown LA: inside the fence.
	if got := set.Classify(quake("q", 6.6, 34.05, -118.24, at)); len(got) != 1 {
		t.Errorf("quake inside geofence should match, got %v", got)
	}
	// San Diego: ~179 km away, outside the 80.4672 km fence.
	if got := set.Classify(quake("q", 6.6, 32.7157, -117.1611, at)); len(got) != 0 {
		t.Errorf("quake outside geofence should not match, got %v", got)
	}
	// No coordinates: geofenced rule must fail, not panic or pass.
	e := quake("q", 6.6, 0, 0, at)
	e.HasLocation = false
	if got := set.Classify(e); len(got) != 0 {
		t.Errorf("quake without coordinates should not match geofenced rule, got %v", got)
	}
}

func TestClassifyMissingMagnitude(t *testing.T) {
	set := mustLoad(t, config.RulesConfig{
		Timezone: "UTC",
		Markets: []config.RuleConfig{
			// min_magnitude 0 would match any present magnitude, including negatives
			{Label: "any", MinMagnitude: 0, WindowStart: "2025-01-01 00:00:00", WindowEnd: "2025-12-31 23:59:59"},
		},
	})
	e := &models.Event{
		ID:         "nomag",
		OccurredAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	if got := set.Classify(e); len(got) != 0 {
		t.Errorf("event without magnitude must not match any rule, got %v", got)
	}
}

func TestClassifyOverlappingWindows(t *testing.T) {
	set := mustLoad(t, config.RulesConfig{
		Timezone: "UTC",
		Markets: []config.RuleConfig{
			{Label: "m70", MinMagnitude: 7.0, WindowStart: "2025-10-01 00:00:00", WindowEnd: "2025-12-31 23:59:59"},
			{Label: "m80", MinMagnitude: 8.0, WindowStart: "2025-11-01 00:00:00", WindowEnd: "2025-11-30 23:59:59"},
		},
	})
	at := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	got := set.Classify(quake("q", 8.2, 0, 0, at))
	if len(got) != 2 {
		t.Fatalf("M8.2 inside both windows should match both rules, got %v", got)
	}
	if got[0] != "m70" || got[1] != "m80" {
		t.Errorf("labels should follow rule order, got %v", got)
	}
}

func TestLoadRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RulesConfig
	}{
		{
			name: "bad timezone",
			cfg:  config.RulesConfig{Timezone: "Not/AZone"},
		},
		{
			name: "start after end",
			cfg: config.RulesConfig{
				Timezone: "UTC",
				Markets: []config.RuleConfig{
					{Label: "x", WindowStart: "2025-12-31 00:00:00", WindowEnd: "2025-01-01 00:00:00"},
				},
			},
		},
		{
			name: "negative radius",
			cfg: config.RulesConfig{
				Timezone: "UTC",
				Markets: []config.RuleConfig{
					{Label: "x", WindowStart: "2025-01-01 00:00:00", WindowEnd: "2025-12-31 23:59:59", RadiusKm: -1},
				},
			},
		},
		{
			name: "malformed window",
			cfg: config.RulesConfig{
				Timezone: "UTC",
				Markets: []config.RuleConfig{
					{Label: "x", WindowStart: "not-a-time", WindowEnd: "2025-12-31 23:59:59"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.cfg); err == nil {
				t.Error("expected Load to fail")
			}
		})
	}
}
