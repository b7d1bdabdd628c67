// Package usgs provides a client for the USGS FDSN event web service.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/logger"
	"github.com/rewired-gh/quakeoracle/internal/models"
)

// Client provides access to the USGS FDSN event API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limit      int
	maxRetries int
}

// feed is the geojson response envelope.
type feed struct {
	Features []feature `json:"features"`
}

// feature is one quake record on the wire. Magnitude is nullable on
// preliminary reports; geometry may be absent entirely.
type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag    *float64 `json:"mag"`
		Place  string   `json:"place"`
		TimeMs *int64   `json:"time"`
		URL    string   `json:"url"`
		Detail string   `json:"detail"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates []float64 `json:"coordinates"` // lon, lat, depth_km
	} `json:"geometry"`
}

// NewClient creates a new USGS client.
func NewClient(endpoint string, timeout time.Duration, limit, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limit:      limit,
		maxRetries: maxRetries,
	}
}

// FetchSince retrieves events with occurrence time >= since, ordered by
// time. Features without an identifier or an occurrence time are dropped;
// missing magnitude and coordinates are preserved as absent.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]models.Event, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint: %w", err)
	}

	q := u.Query()
	q.Set("format", "geojson")
	q.Set("starttime", since.UTC().Truncate(time.Second).Format(time.RFC3339))
	q.Set("orderby", "time")
	q.Set("limit", strconv.Itoa(c.limit))
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected feed status: %d", resp.StatusCode)
	}

	var f feed
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	events := make([]models.Event, 0, len(f.Features))
	for _, feat := range f.Features {
		if feat.ID == "" {
			logger.Debug("Dropping feed record without identifier")
			continue
		}
		if feat.Properties.TimeMs == nil {
			logger.Debug("Dropping feed record %s without occurrence time", feat.ID)
			continue
		}

		e := models.Event{
			ID:         feat.ID,
			Place:      feat.Properties.Place,
			URL:        feat.Properties.URL,
			OccurredAt: time.UnixMilli(*feat.Properties.TimeMs).UTC(),
		}
		if e.URL == "" {
			e.URL = feat.Properties.Detail
		}
		if feat.Properties.Mag != nil {
			e.Magnitude = *feat.Properties.Mag
			e.HasMagnitude = true
		}
		if feat.Geometry != nil && len(feat.Geometry.Coordinates) >= 2 {
			e.Longitude = feat.Geometry.Coordinates[0]
			e.Latitude = feat.Geometry.Coordinates[1]
			e.HasLocation = true
			if len(feat.Geometry.Coordinates) > 2 {
				e.DepthKm = feat.Geometry.Coordinates[2]
				e.HasDepth = true
			}
		}
		events = append(events, e)
	}

	return events, nil
}

// CheckConnection performs a minimal probe against the feed and returns a
// human-readable status line for the heartbeat body.
func (c *Client) CheckConnection(ctx context.Context) (bool, string) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return false, fmt.Sprintf("USGS API: bad endpoint: %v", err)
	}
	q := u.Query()
	q.Set("format", "geojson")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Sprintf("USGS API: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("USGS API: connection error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("USGS API: status %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("USGS API: status %d OK", resp.StatusCode)
}

// doRequest performs an HTTP GET with linear-backoff retry on transport
// errors and 5xx responses.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
