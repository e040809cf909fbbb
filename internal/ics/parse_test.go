package ics

import (
	"strings"
	"testing"
	"time"
)

func nyZone(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return loc
}

func vcal(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Desktop//Calendar//EN\r\n")
	for _, ev := range events {
		b.WriteString(ev)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

func TestParse_TimedEventWithTZID(t *testing.T) {
	ny := nyZone(t)
	body := vcal(vevent(
		"UID:ev1",
		"SUMMARY:Standup",
		"LOCATION:Room 4",
		"DESCRIPTION:Daily",
		"DTSTART;TZID=America/New_York:20260305T100000",
		"DTEND;TZID=America/New_York:20260305T103000",
	))

	events, err := Parse("work.ics", body, ny)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.UID != "ev1" || ev.Summary != "Standup" || ev.Location != "Room 4" || ev.Description != "Daily" {
		t.Errorf("fields: %+v", ev)
	}
	want := time.Date(2026, 3, 5, 10, 0, 0, 0, ny)
	if !ev.Start.Equal(want) {
		t.Errorf("start = %v, want %v", ev.Start, want)
	}
	if got := ev.End.Sub(ev.Start); got != 30*time.Minute {
		t.Errorf("span = %v", got)
	}
	if ev.AllDay {
		t.Error("timed event classified all-day")
	}
	if ev.File != "work.ics" {
		t.Errorf("file = %q", ev.File)
	}
}

func TestParse_UTCAndZonelessForms(t *testing.T) {
	ny := nyZone(t)

	t.Run("Z suffix is UTC", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:utc1",
			"DTSTART:20260305T150000Z",
			"DTEND:20260305T160000Z",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		want := time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)
		if !events[0].Start.Equal(want) {
			t.Errorf("start = %v, want %v", events[0].Start, want)
		}
	})

	t.Run("zone-less uses configured zone", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:floating1",
			"DTSTART:20260305T100000",
			"DTEND:20260305T110000",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		want := time.Date(2026, 3, 5, 10, 0, 0, 0, ny)
		if !events[0].Start.Equal(want) {
			t.Errorf("start = %v, want %v", events[0].Start, want)
		}
	})
}

func TestParse_AllDayClassification(t *testing.T) {
	ny := nyZone(t)

	t.Run("explicit vendor marker", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:ad1",
			"X-MICROSOFT-CDO-ALLDAYEVENT:TRUE",
			"DTSTART;TZID=America/New_York:20260305T000000",
			"DTEND;TZID=America/New_York:20260306T000000",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		ev := events[0]
		if !ev.AllDay {
			t.Fatal("marker TRUE not classified all-day")
		}
		wantStart := time.Date(2026, 3, 5, 0, 0, 0, 0, ny)
		if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantStart.AddDate(0, 0, 1)) {
			t.Errorf("span = [%v, %v)", ev.Start, ev.End)
		}
	})

	t.Run("date-only DTSTART", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:ad2",
			"DTSTART;VALUE=DATE:20260305",
			"DTEND;VALUE=DATE:20260307",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		ev := events[0]
		if !ev.AllDay {
			t.Fatal("date-only DTSTART not classified all-day")
		}
		wantStart := time.Date(2026, 3, 5, 0, 0, 0, 0, ny)
		wantEnd := time.Date(2026, 3, 7, 0, 0, 0, 0, ny)
		if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantEnd) {
			t.Errorf("span = [%v, %v), want [%v, %v)", ev.Start, ev.End, wantStart, wantEnd)
		}
	})

	t.Run("midnight-to-midnight heuristic", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:ad3",
			"DTSTART:20260305T000000",
			"DTEND:20260306T000000",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		if !events[0].AllDay {
			t.Error("midnight span not classified all-day")
		}
	})

	t.Run("marker FALSE does not veto the midnight span", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:ad4",
			"X-MICROSOFT-CDO-ALLDAYEVENT:FALSE",
			"DTSTART:20260305T000000",
			"DTEND:20260306T000000",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		if !events[0].AllDay {
			t.Error("midnight-to-midnight span with marker FALSE not classified all-day")
		}
	})

	t.Run("marker FALSE on a timed event stays timed", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:ad5",
			"X-MICROSOFT-CDO-ALLDAYEVENT:FALSE",
			"DTSTART:20260305T090000",
			"DTEND:20260305T170000",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		if events[0].AllDay {
			t.Error("ordinary timed event classified all-day")
		}
	})
}

func TestParse_DefaultEnds(t *testing.T) {
	ny := nyZone(t)

	t.Run("timed event defaults to one hour", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:noend1",
			"DTSTART:20260305T100000Z",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		if got := events[0].End.Sub(events[0].Start); got != time.Hour {
			t.Errorf("default span = %v", got)
		}
	})

	t.Run("all-day event defaults to one day", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:noend2",
			"DTSTART;VALUE=DATE:20260305",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		ev := events[0]
		if !ev.End.Equal(ev.Start.AddDate(0, 0, 1)) {
			t.Errorf("default all-day span = [%v, %v)", ev.Start, ev.End)
		}
	})
}

func TestParse_RecurrenceProperties(t *testing.T) {
	ny := nyZone(t)

	events, err := Parse("f.ics", vcal(vevent(
		"UID:series1",
		"DTSTART;TZID=America/New_York:20260302T100000",
		"DTEND;TZID=America/New_York:20260302T110000",
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"EXDATE;TZID=America/New_York:20260309T100000,20260316T100000",
	)), ny)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%d err=%v", len(events), err)
	}
	ev := events[0]
	if ev.RawRRule != "FREQ=WEEKLY;BYDAY=MO" {
		t.Errorf("rrule = %q", ev.RawRRule)
	}
	if len(ev.ExDates) != 2 {
		t.Fatalf("exdates = %v", ev.ExDates)
	}
	want := time.Date(2026, 3, 9, 10, 0, 0, 0, ny)
	if !ev.ExDates[0].Equal(want) {
		t.Errorf("first exdate = %v, want %v", ev.ExDates[0], want)
	}
}

func TestParse_RecurrenceIDCanonicalForms(t *testing.T) {
	ny := nyZone(t)

	t.Run("timed id normalizes to UTC", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:series1",
			"RECURRENCE-ID;TZID=America/New_York:20260305T100000",
			"DTSTART;TZID=America/New_York:20260305T140000",
			"DTEND;TZID=America/New_York:20260305T150000",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		ev := events[0]
		if !ev.IsOverride || ev.Recurrence == nil {
			t.Fatalf("override not detected: %+v", ev)
		}
		// 10:00 EST is 15:00 UTC.
		if ev.RecurrenceID != "20260305T150000Z" {
			t.Errorf("canonical id = %q", ev.RecurrenceID)
		}
	})

	t.Run("date-only id stays a date", func(t *testing.T) {
		events, err := Parse("f.ics", vcal(vevent(
			"UID:series2",
			"RECURRENCE-ID;VALUE=DATE:20260305",
			"DTSTART;VALUE=DATE:20260306",
		)), ny)
		if err != nil || len(events) != 1 {
			t.Fatalf("events=%d err=%v", len(events), err)
		}
		if events[0].RecurrenceID != "20260305" {
			t.Errorf("canonical id = %q", events[0].RecurrenceID)
		}
	})
}

func TestParse_SkipsEventsMissingRequiredFields(t *testing.T) {
	ny := nyZone(t)

	body := vcal(
		vevent("SUMMARY:No UID", "DTSTART:20260305T100000Z"),
		vevent("UID:nostart", "SUMMARY:No DTSTART"),
		vevent("UID:good", "DTSTART:20260305T100000Z"),
	)
	events, err := Parse("f.ics", body, ny)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].UID != "good" {
		t.Errorf("events = %+v, want only the well-formed one", events)
	}
}

func TestParse_MultipleCalendarBlocks(t *testing.T) {
	ny := nyZone(t)

	one := vcal(vevent("UID:a", "DTSTART:20260305T100000Z"))
	two := vcal(vevent("UID:b", "DTSTART:20260306T100000Z"))
	body := append(append([]byte{}, one...), two...)

	events, err := Parse("merged.ics", body, ny)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events from two blocks", len(events))
	}
}

func TestParse_EmptyAndJunkBodies(t *testing.T) {
	ny := nyZone(t)

	if _, err := Parse("f.ics", []byte("   \n"), ny); err == nil {
		t.Error("empty body parsed")
	}
	if _, err := Parse("f.ics", []byte("no calendar here"), ny); err == nil {
		t.Error("junk body parsed")
	}
}
