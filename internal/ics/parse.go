package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calbridge/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced by
// the parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	// File is the snapshot file the event came from, for diagnostics.
	File string

	UID string

	Summary     string
	Description string
	Location    string

	// Start and End are resolved instants. For all-day events they are
	// midnight-aligned in the configured zone with an exclusive end.
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// RecurrenceID is the canonical form of an override's RECURRENCE-ID
	// (UTC 20060102T150405Z, or 20060102 for date-only values), so the same
	// instance keeps one identity across export representation changes.
	// Recurrence is the resolved instant. Both are unset for base events.
	RecurrenceID string
	Recurrence   *time.Time
	IsOverride   bool
}

// Parse parses the raw contents of one snapshot file into events. The file
// may contain several concatenated VCALENDAR blocks; malformed blocks and
// malformed events are skipped with a diagnostic. loc is the zone used to
// interpret zone-less timestamps.
//
// An error is returned only when the file yields no parseable block at all.
func Parse(file string, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty calendar file")
	}
	if loc == nil {
		loc = time.UTC
	}

	blocks := SplitCalendars(body)
	if len(blocks) == 0 {
		return nil, errors.New("no VCALENDAR block found")
	}

	events := make([]ParsedEvent, 0)
	parsedBlocks := 0

	for i, block := range blocks {
		cal, err := ical.ParseCalendar(bytes.NewReader(block))
		if err != nil {
			appLog.Error("calendar block parse failed", err, "file", file, "block", i+1)
			continue
		}
		parsedBlocks++

		for _, ve := range cal.Events() {
			ev, perr := parseVEvent(file, ve, loc)
			if perr != nil {
				// Log and skip this event, but keep parsing others.
				appLog.Error("vevent parse failed", perr, "file", file, "block", i+1)
				continue
			}
			events = append(events, ev)
		}
	}

	if parsedBlocks == 0 {
		return nil, fmt.Errorf("all %d VCALENDAR blocks in %s failed to parse", len(blocks), file)
	}

	appLog.Debug("calendar file parsed", "file", file, "blocks", parsedBlocks, "events", len(events))
	return events, nil
}

func parseVEvent(file string, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent
	out.File = file

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	start, startDateOnly, err := parseTimeProp(dtStart, loc)
	if err != nil {
		return out, fmt.Errorf("bad DTSTART %q: %w", dtStart.Value, err)
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		end, _, eerr := parseTimeProp(dtEnd, loc)
		if eerr != nil {
			return out, fmt.Errorf("bad DTEND %q: %w", dtEnd.Value, eerr)
		}
		out.End = end
	}

	// Any one of three signals classifies the event all-day: the explicit
	// vendor marker, a date-only DTSTART, or a midnight-to-midnight span.
	// A marker of FALSE is not a veto; the other signals still apply.
	allDay := allDayMarker(ve) || startDateOnly

	if out.End.IsZero() {
		if allDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start.Add(time.Hour)
		}
	}

	if !allDay && isMidnightSpan(out.Start, out.End, loc) {
		allDay = true
	}
	if allDay {
		out.Start, out.End = normalizeAllDay(out.Start, out.End, loc)
	}
	out.AllDay = allDay

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE can appear multiple times, each holding a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		zone := zoneFromParams(p.ICalParameters, loc)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, perr := parseTimeValue(part, zone)
			if perr != nil {
				appLog.Warn("unparseable EXDATE entry skipped", "file", file, "uid", out.UID, "value", part)
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil && ridProp.Value != "" {
		zone := zoneFromParams(ridProp.ICalParameters, loc)
		t, dateOnly, perr := parseTimeValue(ridProp.Value, zone)
		if perr != nil {
			return out, fmt.Errorf("bad RECURRENCE-ID %q: %w", ridProp.Value, perr)
		}
		out.RecurrenceID = canonicalRecurrenceID(t, dateOnly)
		out.Recurrence = &t
		out.IsOverride = true
	}

	return out, nil
}

// canonicalRecurrenceID renders a RECURRENCE-ID instant in a representation
// independent of how the export spelled it.
func canonicalRecurrenceID(t time.Time, dateOnly bool) string {
	if dateOnly {
		return t.Format("20060102")
	}
	return t.UTC().Format("20060102T150405Z")
}

// allDayMarker reports whether the X-MICROSOFT-CDO-ALLDAYEVENT property is
// present and TRUE. Absent or FALSE both read as unset.
func allDayMarker(ve *ical.VEvent) bool {
	p := ve.GetProperty("X-MICROSOFT-CDO-ALLDAYEVENT")
	return p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "TRUE")
}

// isMidnightSpan reports whether [start, end) covers whole days: both
// endpoints at midnight in loc and the span a multiple of 24 hours.
func isMidnightSpan(start, end time.Time, loc *time.Location) bool {
	s := start.In(loc)
	e := end.In(loc)
	if s.Hour() != 0 || s.Minute() != 0 || s.Second() != 0 {
		return false
	}
	if e.Hour() != 0 || e.Minute() != 0 || e.Second() != 0 {
		return false
	}
	return !e.Before(s)
}

// normalizeAllDay aligns an all-day span to midnight boundaries in loc and
// widens zero-length spans to a single day. The end stays exclusive.
func normalizeAllDay(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	s := start.In(loc)
	e := end.In(loc)
	ns := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	ne := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc)
	if !ne.After(ns) {
		ne = ns.AddDate(0, 0, 1)
	}
	return ns, ne
}

// zoneFromParams resolves a property's TZID parameter, falling back to loc
// when the parameter is absent or names an unknown zone.
func zoneFromParams(params map[string][]string, loc *time.Location) *time.Location {
	if params == nil {
		return loc
	}
	tzs, ok := params["TZID"]
	if !ok || len(tzs) == 0 || tzs[0] == "" {
		return loc
	}
	zone, err := time.LoadLocation(tzs[0])
	if err != nil {
		appLog.Warn("unknown TZID, using configured zone", "tzid", tzs[0])
		return loc
	}
	return zone
}

// parseTimeProp resolves a date/date-time property with its parameter
// context. The second result reports a date-only value.
func parseTimeProp(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	zone := zoneFromParams(p.ICalParameters, loc)

	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			t, err := time.ParseInLocation("20060102", strings.TrimSpace(p.Value), loc)
			return t, true, err
		}
	}

	return parseTimeValue(p.Value, zone)
}

// parseTimeValue parses a bare ICS date or date-time string. Date-only
// values are placed at midnight in the configured zone; the second result
// reports that case.
func parseTimeValue(v string, zone *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	// UTC form, e.g. 20260101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	// Zone-less date-time, e.g. 20260101T090000, interpreted in zone.
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, zone)
		return t, false, err
	}

	// Date-only, e.g. 20260101.
	t, err := time.ParseInLocation("20060102", v, zone)
	return t, true, err
}
