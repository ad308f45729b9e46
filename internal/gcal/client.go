package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client inserts events into a Google Calendar over the REST API.
type Client struct {
	HTTPClient  *http.Client
	BaseURL     string
	AccessToken string
	CalendarID  string
}

func NewClient(accessToken, calendarID string) *Client {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		BaseURL:     defaultBaseURL,
		AccessToken: accessToken,
		CalendarID:  calendarID,
	}
}

// Event is the calendar entry to create.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// CreatedEvent is what callers get back for linking and auditing.
type CreatedEvent struct {
	EventID string
	Link    string
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type insertRequest struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
}

type insertResponse struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink"`
}

// InsertEvent creates the event and returns its id and link. An End at or
// before Start gets a one-hour default duration.
func (c *Client) InsertEvent(ctx context.Context, ev Event) (CreatedEvent, error) {
	if c.AccessToken == "" {
		return CreatedEvent{}, fmt.Errorf("gcal: access token missing")
	}
	if strings.TrimSpace(ev.Summary) == "" {
		return CreatedEvent{}, fmt.Errorf("gcal: event summary required")
	}
	if ev.Start.IsZero() {
		return CreatedEvent{}, fmt.Errorf("gcal: event start required")
	}
	if !ev.End.After(ev.Start) {
		ev.End = ev.Start.Add(time.Hour)
	}

	body, _ := json.Marshal(insertRequest{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       eventTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         eventTime{DateTime: ev.End.Format(time.RFC3339)},
	})

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.BaseURL, c.CalendarID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return CreatedEvent{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return CreatedEvent{}, fmt.Errorf("gcal: insert event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return CreatedEvent{}, fmt.Errorf("gcal: insert event: status=%d body=%s", resp.StatusCode, string(b))
	}

	var ir insertResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return CreatedEvent{}, fmt.Errorf("gcal: decode response: %w", err)
	}
	if ir.ID == "" {
		return CreatedEvent{}, fmt.Errorf("gcal: response missing event id")
	}
	return CreatedEvent{EventID: ir.ID, Link: ir.HTMLLink}, nil
}
