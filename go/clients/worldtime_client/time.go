package worldtime_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TimeResponse is the subset of the worldtimeapi payload we read
type TimeResponse struct {
	UTCDatetime string `json:"utc_datetime"`
	Datetime    string `json:"datetime"`
	Unixtime    int64  `json:"unixtime"`
	UnixtimeMs  int64  `json:"unixtime_ms,omitempty"`
	Timezone    string `json:"timezone"`
	Origin      string `json:"origin,omitempty"`
}

// Instant returns the most precise instant the response carries
func (r TimeResponse) Instant() (time.Time, error) {
	for _, raw := range []string{r.UTCDatetime, r.Datetime} {
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			return t.UTC(), nil
		}
	}

	if r.UnixtimeMs > 0 {
		return time.UnixMilli(r.UnixtimeMs).UTC(), nil
	}
	if r.Unixtime > 0 {
		return time.Unix(r.Unixtime, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("time response carries no usable instant")
}

// CurrentTime queries the JSON endpoint for the current UTC instant
func (c *WorldTimeClient) CurrentTime(ctx context.Context) (time.Time, error) {
	body, err := c.Get(ctx, c.endpoint)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get time: %w", err)
	}

	var response TimeResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}

	return response.Instant()
}

// DateHeaderTime reads the Date header of a HEAD request to the client's base URL
func (c *WorldTimeClient) DateHeaderTime(ctx context.Context) (time.Time, error) {
	headers, err := c.Head(ctx, "")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to head %s: %w", c.BaseURL(), err)
	}

	raw := headers.Get(DateHeader)
	if raw == "" {
		return time.Time{}, fmt.Errorf("response from %s has no Date header", c.BaseURL())
	}

	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse Date header %q: %w", raw, err)
	}
	return t.UTC(), nil
}
