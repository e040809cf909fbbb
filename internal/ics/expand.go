package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calbridge/internal/log"
	"calbridge/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the configured zone; occurrences are normalized into it.
	// If nil, time.UTC is used.
	Location *time.Location

	// RangeStart / RangeEnd bound the window. An occurrence is kept when
	// its [Start, End) span overlaps [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps expanded occurrences plus diagnostics.
type ExpandResult struct {
	Occurrences []model.Occurrence

	// TruncatedUIDs records events that hit the per-event cap.
	TruncatedUIDs []string

	// Duplicates counts occurrences dropped because another occurrence in
	// the same snapshot already claimed the same (UID, start).
	Duplicates int
}

// Expand turns parsed events into concrete occurrences within the window.
// It handles plain events, RRULE recurrence with EXDATE exceptions,
// RECURRENCE-ID overrides (including overrides moved into the window from
// outside it), and all-day day-span semantics. The result is free of
// (UID, start) duplicates; extras are dropped keep-first with a diagnostic.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, keeping first-appearance
	// order so keep-first deduplication stays deterministic.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	uidOrder := make([]string, 0, len(events))
	seenUID := make(map[string]bool)

	for _, ev := range events {
		if !seenUID[ev.UID] {
			seenUID[ev.UID] = true
			uidOrder = append(uidOrder, ev.UID)
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	all := make([]model.Occurrence, 0, len(events))

	for _, uid := range uidOrder {
		overrides := overridesByUID[uid]
		consumed := make([]bool, len(overrides))
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, overrides, consumed, cfg)
			if hitCap {
				truncated = true
			}
			all = append(all, occ...)
		}

		// Overrides that replaced no expanded instance stand alone. This
		// covers instances rescheduled into the window from outside it,
		// and series whose master is absent from the snapshot.
		for i, ov := range overrides {
			if consumed[i] {
				continue
			}
			if !overlaps(ov.Start, ov.End, cfg.RangeStart, cfg.RangeEnd) {
				continue
			}
			all = append(all, makeOccurrence(ov, ov.Start, ov.End, cfg.Location))
		}

		if truncated {
			result.TruncatedUIDs = append(result.TruncatedUIDs, uid)
			appLog.Warn("recurrence expansion truncated",
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// No two occurrences in one snapshot may share (UID, start).
	seen := make(map[string]bool, len(all))
	deduped := all[:0]
	for _, occ := range all {
		key := occ.UID + "\x1f" + occ.Start.UTC().Format(time.RFC3339)
		if seen[key] {
			result.Duplicates++
			appLog.Warn("duplicate occurrence dropped",
				"uid", occ.UID,
				"start", occ.Start.Format(time.RFC3339),
				"summary", occ.Summary,
			)
			continue
		}
		seen[key] = true
		deduped = append(deduped, occ)
	}

	result.Occurrences = deduped
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, consumed []bool, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, consumed, cfg), false
	}
	return expandRecurringEvent(ev, overrides, consumed, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, consumed []bool, cfg ExpandConfig) []model.Occurrence {
	start, end := ev.Start, ev.End
	use := ev

	// An override whose RECURRENCE-ID matches this start replaces it even
	// for non-recurring events; desktop exports produce such pairs when a
	// single event is edited.
	if i, ok := findOverrideForStart(overrides, start); ok {
		consumed[i] = true
		use = overrides[i]
		start, end = use.Start, use.End
	}

	if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(use, start, end, cfg.Location)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, consumed []bool, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("unparseable RRULE, series skipped", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Pull the range start back by one span so instances that begin before
	// the window but overlap into it are not lost.
	span := ev.End.Sub(ev.Start)
	if ev.AllDay {
		span = time.Duration(civilDays(ev.Start, ev.End, cfg.Location)) * 24 * time.Hour
	}
	rangeStart := cfg.RangeStart.Add(-span).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	days := civilDays(ev.Start, ev.End, cfg.Location)

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			occStart, occEnd = allDaySpanAt(occStart, days, cfg.Location)
		} else {
			occEnd = occStart.Add(ev.End.Sub(ev.Start))
		}

		use := ev
		start, end := occStart, occEnd
		if i, ok := findOverrideForStart(overrides, occStart); ok {
			consumed[i] = true
			use = overrides[i]
			start, end = use.Start, use.End
		}

		// Overrides can move an instance out of the window.
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}

		out = append(out, makeOccurrence(use, start, end, cfg.Location))
	}

	return out, hitCap
}

// findOverrideForStart locates the override whose RECURRENCE-ID names the
// given instance start, comparing instants.
func findOverrideForStart(overrides []ParsedEvent, instanceStart time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(instanceStart) {
			return i, true
		}
	}
	return 0, false
}

// makeOccurrence converts a (possibly overridden) event plus one concrete
// start/end into an Occurrence normalized into loc.
func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	return model.Occurrence{
		SourceFile:   ev.File,
		UID:          ev.UID,
		RecurrenceID: ev.RecurrenceID,
		Summary:      ev.Summary,
		Description:  ev.Description,
		Location:     ev.Location,
		AllDay:       ev.AllDay,
		Start:        start.In(loc),
		End:          end.In(loc),
	}
}

// allDaySpanAt aligns one expanded all-day instance to midnight in loc and
// applies the base event's day count.
func allDaySpanAt(start time.Time, days int, loc *time.Location) (time.Time, time.Time) {
	s := start.In(loc)
	ns := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	return ns, ns.AddDate(0, 0, days)
}

// civilDays counts whole calendar days covered by [start, end) in loc,
// never less than one. Counting dates instead of dividing the duration
// keeps daylight-saving transitions from producing fractional days.
func civilDays(start, end time.Time, loc *time.Location) int {
	s := start.In(loc)
	e := end.In(loc)
	sd := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	ed := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	d := int(ed.Sub(sd).Hours() / 24)
	if d < 1 {
		d = 1
	}
	return d
}

// overlaps reports whether the half-open spans [aStart, aEnd) and
// [lo, hi) intersect. A zero-length span is tested as an instant.
func overlaps(aStart, aEnd, lo, hi time.Time) bool {
	if aEnd.After(aStart) {
		return aStart.Before(hi) && lo.Before(aEnd)
	}
	return !aStart.Before(lo) && aStart.Before(hi)
}
