// Package gcaltest provides a fake Google Calendar API server for tests.
// It implements the subset of the Events endpoints the gcal adapter uses
// (insert, list, get, patch, update, delete) with pagination and on-demand
// failure injection, so adapter behavior can be tested without the network.
package gcaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
)

// Counts tallies the API calls the server has handled.
type Counts struct {
	Inserts int
	Patches int
	Deletes int
	Lists   int
	Gets    int
}

// Server is a fake Calendar API server. Point the adapter at Server.URL
// via its endpoint option.
type Server struct {
	*httptest.Server

	mu     sync.RWMutex
	events map[string]map[string]*calendar.Event // calendarID -> eventID -> event
	nextID int
	counts Counts

	failStatus     int
	failRemaining  int
	failRetryAfter int
	forcePageSize  int
}

// NewServer starts a fake server with no events.
func NewServer() *Server {
	s := &Server{
		events: make(map[string]map[string]*calendar.Event),
		nextID: 1,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	s.Server = httptest.NewServer(mux)
	return s
}

// FailNext makes the next count requests fail with the given HTTP status
// before any handler logic runs. Requests after that succeed normally.
func (s *Server) FailNext(status, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failRemaining = count
	s.failRetryAfter = 0
}

// FailNextWithRetryAfter is FailNext plus a Retry-After header, the way
// rate limit responses advertise a pause.
func (s *Server) FailNextWithRetryAfter(status, count, retryAfterSecs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failRemaining = count
	s.failRetryAfter = retryAfterSecs
}

// ForcePageSize caps list pages below whatever the client asks for, so
// pagination can be exercised without seeding hundreds of events.
func (s *Server) ForcePageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcePageSize = n
}

// Counts returns how many calls of each kind the server has served,
// including injected failures.
func (s *Server) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts
}

// Reset drops all events, counters, and pending failures.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]map[string]*calendar.Event)
	s.nextID = 1
	s.counts = Counts{}
	s.failRemaining = 0
}

// Events returns a snapshot of one calendar's events for assertions.
func (s *Server) Events(calendarID string) []*calendar.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*calendar.Event
	for _, ev := range s.events[calendarID] {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// AddEvent seeds an event, assigning an id when none is set.
func (s *Server) AddEvent(calendarID string, event *calendar.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Id == "" {
		event.Id = fmt.Sprintf("event%d", s.nextID)
		s.nextID++
	}
	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*calendar.Event)
	}
	s.events[calendarID][event.Id] = event
	return event.Id
}

// failInjected consumes one pending injected failure, writing the error
// response itself. Returns true when the request was consumed.
func (s *Server) failInjected(w http.ResponseWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemaining <= 0 {
		return false
	}
	s.failRemaining--
	if s.failRetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", s.failRetryAfter))
	}
	writeAPIError(w, s.failStatus, "injected failure")
	return true
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.failInjected(w) {
		return
	}

	path := r.URL.Path
	idx := strings.Index(path, "/calendars/")
	if idx == -1 || !strings.Contains(path, "/events") {
		writeAPIError(w, http.StatusNotFound, "unsupported endpoint")
		return
	}

	parts := strings.Split(strings.Trim(path[idx+len("/calendars/"):], "/"), "/")
	if len(parts) < 2 || parts[1] != "events" {
		writeAPIError(w, http.StatusBadRequest, "invalid events path")
		return
	}
	calendarID := parts[0]

	switch {
	case len(parts) == 2:
		switch r.Method {
		case http.MethodGet:
			s.listEvents(w, r, calendarID)
		case http.MethodPost:
			s.insertEvent(w, r, calendarID)
		default:
			writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 3:
		eventID := parts[2]
		switch r.Method {
		case http.MethodGet:
			s.getEvent(w, calendarID, eventID)
		case http.MethodPut, http.MethodPatch:
			s.updateEvent(w, r, calendarID, eventID)
		case http.MethodDelete:
			s.deleteEvent(w, calendarID, eventID)
		default:
			writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeAPIError(w, http.StatusBadRequest, "invalid path")
	}
}

func (s *Server) insertEvent(w http.ResponseWriter, r *http.Request, calendarID string) {
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Inserts++

	event.Id = fmt.Sprintf("event%d", s.nextID)
	s.nextID++
	event.Status = "confirmed"
	event.Created = time.Now().Format(time.RFC3339)
	event.Updated = event.Created

	if s.events[calendarID] == nil {
		s.events[calendarID] = make(map[string]*calendar.Event)
	}
	s.events[calendarID][event.Id] = &event

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, calendarID string) {
	s.mu.Lock()
	s.counts.Lists++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := r.URL.Query()
	timeMin := query.Get("timeMin")
	timeMax := query.Get("timeMax")
	pageToken := query.Get("pageToken")
	maxResults := query.Get("maxResults")

	var events []*calendar.Event
	for _, evt := range s.events[calendarID] {
		start := eventStartKey(evt)
		if timeMin != "" && start != "" && start < comparableKey(timeMin) {
			continue
		}
		if timeMax != "" && start != "" && start > comparableKey(timeMax) {
			continue
		}
		events = append(events, evt)
	}
	sort.Slice(events, func(i, j int) bool {
		return eventStartKey(events[i]) < eventStartKey(events[j])
	})

	startIdx := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &startIdx)
	}
	maxRes := len(events)
	if maxResults != "" {
		fmt.Sscanf(maxResults, "%d", &maxRes)
	}
	if s.forcePageSize > 0 && maxRes > s.forcePageSize {
		maxRes = s.forcePageSize
	}
	endIdx := startIdx + maxRes
	if endIdx > len(events) {
		endIdx = len(events)
	}

	resp := &calendar.Events{
		Kind:    "calendar#events",
		Summary: calendarID,
		Items:   events[startIdx:endIdx],
	}
	if endIdx < len(events) {
		resp.NextPageToken = fmt.Sprintf("%d", endIdx)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) getEvent(w http.ResponseWriter, calendarID, eventID string) {
	s.mu.Lock()
	s.counts.Gets++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	event := s.events[calendarID][eventID]
	if event == nil {
		writeAPIError(w, http.StatusNotFound, "event not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Patches++

	existing := s.events[calendarID][eventID]
	if existing == nil {
		writeAPIError(w, http.StatusNotFound, "event not found")
		return
	}

	var updates calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	updates.Id = eventID
	updates.Created = existing.Created
	updates.Updated = time.Now().Format(time.RFC3339)

	s.events[calendarID][eventID] = &updates

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updates)
}

func (s *Server) deleteEvent(w http.ResponseWriter, calendarID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Deletes++

	if s.events[calendarID][eventID] == nil {
		writeAPIError(w, http.StatusNotFound, "event not found")
		return
	}
	delete(s.events[calendarID], eventID)
	w.WriteHeader(http.StatusNoContent)
}

// eventStartKey returns a sortable key for an event's start, favoring the
// timed form and falling back to the date-only form.
func eventStartKey(evt *calendar.Event) string {
	if evt.Start == nil {
		return ""
	}
	if evt.Start.DateTime != "" {
		return comparableKey(evt.Start.DateTime)
	}
	return evt.Start.Date
}

// comparableKey reduces an RFC3339 stamp to a form that compares sanely
// against date-only values.
func comparableKey(v string) string {
	return strings.TrimSuffix(v, "Z")
}

// writeAPIError emits an error in the envelope the Google API client
// expects, so googleapi.Error decoding sees the intended status code.
func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error": {"code": %d, "message": %q}}`, status, message)
}
