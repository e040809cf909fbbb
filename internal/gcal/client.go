// Package gcal implements the target adapter against the Google Calendar
// API. Every event it creates carries a private extended property holding
// the composite id, so the module's tools can always tell their own events
// apart from everything else on the calendar.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calbridge/internal/target"
)

// markerKey is the private extended property naming the composite id on
// events this tool owns.
const markerKey = "compositeUID"

const listPageSize = 500

// Options configures a Client.
type Options struct {
	// CalendarID is the target calendar, "primary" or a calendar address.
	CalendarID string

	// RatePerSecond caps steady-state API calls, shared across all callers
	// of this client. Zero applies the default of 4 calls per second.
	RatePerSecond float64

	// Endpoint overrides the API base URL, for tests against a fake server.
	Endpoint string
}

// Client is the Google Calendar implementation of target.Adapter.
type Client struct {
	service    *calendar.Service
	calendarID string
	limiter    *rate.Limiter
}

var _ target.Adapter = (*Client)(nil)

// NewClient builds a Client over an authenticated HTTP client.
func NewClient(ctx context.Context, httpClient *http.Client, opts Options) (*Client, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 4
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(opts.Endpoint))
	}

	srv, err := calendar.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	return &Client{
		service:    srv,
		calendarID: opts.CalendarID,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
	}, nil
}

// Create inserts a new event and returns the id the target assigned. The
// event id is never set by this side; the target allocates it.
func (c *Client) Create(ctx context.Context, ev target.Event) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", classify("events.insert", err)
	}
	created, err := c.service.Events.Insert(c.calendarID, buildEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", classify("events.insert", err)
	}
	return created.Id, nil
}

// Update patches the addressed event with the new fields.
func (c *Client) Update(ctx context.Context, eventID string, ev target.Event) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classify("events.patch", err)
	}
	_, err := c.service.Events.Patch(c.calendarID, eventID, buildEvent(ev)).Context(ctx).Do()
	return classify("events.patch", err)
}

// Delete removes the addressed event.
func (c *Client) Delete(ctx context.Context, eventID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classify("events.delete", err)
	}
	err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	return classify("events.delete", err)
}

// List pages through the window and returns the events carrying this
// tool's ownership marker. Unmarked events are filtered out so callers can
// never act on something the tool does not own.
func (c *Client) List(ctx context.Context, r target.Range) ([]target.Remote, error) {
	var out []target.Remote

	pageToken := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classify("events.list", err)
		}
		call := c.service.Events.List(c.calendarID).
			Context(ctx).
			SingleEvents(true).
			ShowDeleted(false).
			MaxResults(listPageSize).
			TimeMin(r.Start.UTC().Format(time.RFC3339)).
			TimeMax(r.End.UTC().Format(time.RFC3339))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classify("events.list", err)
		}

		for _, item := range resp.Items {
			rem, ok := toRemote(item)
			if !ok {
				continue
			}
			out = append(out, rem)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return out, nil
		}
	}
}

// buildEvent renders the adapter payload as a Calendar API event. All-day
// events use date-only start/end with the end exclusive; timed events use
// RFC3339 instants.
func buildEvent(ev target.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{markerKey: ev.CompositeID},
		},
	}
	if out.Summary == "" {
		out.Summary = "(no title)"
	}

	if ev.AllDay {
		out.Start = &calendar.EventDateTime{Date: ev.Start.Format("2006-01-02")}
		out.End = &calendar.EventDateTime{Date: ev.End.Format("2006-01-02")}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)}
		out.End = &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)}
	}
	return out
}

// toRemote converts an API event to a Remote, reporting false for events
// without the ownership marker.
func toRemote(item *calendar.Event) (target.Remote, bool) {
	var rem target.Remote

	if item.ExtendedProperties == nil || item.ExtendedProperties.Private == nil {
		return rem, false
	}
	compositeID := item.ExtendedProperties.Private[markerKey]
	if compositeID == "" {
		return rem, false
	}

	rem.EventID = item.Id
	rem.CompositeID = compositeID
	rem.Summary = item.Summary
	rem.Start, rem.AllDay = parseEventTime(item.Start)
	rem.End, _ = parseEventTime(item.End)
	return rem, true
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, false
}

// classify maps API failures onto the adapter taxonomy: 404/410 mean the
// event is gone, 403/429 and server errors are transient, anything else
// from the API (401, schema 400s) is fatal. Non-HTTP failures are treated
// as transient network trouble, except context cancellation, which aborts.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &target.FatalError{Err: fmt.Errorf("%s: %w", op, err)}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
			return fmt.Errorf("%s: %w", op, target.ErrNotFound)
		case gerr.Code == http.StatusForbidden || gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return &target.RetryableError{
				Err:        fmt.Errorf("%s: %w", op, err),
				RetryAfter: retryAfter(gerr),
			}
		default:
			return &target.FatalError{Err: fmt.Errorf("%s: %w", op, err)}
		}
	}

	return &target.RetryableError{Err: fmt.Errorf("%s: %w", op, err)}
}

// retryAfter reads the Retry-After header the API attaches to some rate
// limit responses.
func retryAfter(gerr *googleapi.Error) time.Duration {
	if gerr.Header == nil {
		return 0
	}
	v := gerr.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
