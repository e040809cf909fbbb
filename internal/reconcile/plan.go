package reconcile

import (
	"errors"
	"sort"
	"time"

	"calbridge/internal/identity"
	appLog "calbridge/internal/log"
	"calbridge/internal/model"
	"calbridge/internal/state"
)

// Item is one source occurrence tagged with its derived identity. Items are
// what the reconciler partitions and applies.
type Item struct {
	ID          string
	Fingerprint string
	Occurrence  model.Occurrence
}

// Update pairs an item with the target event id it must patch.
type Update struct {
	Item
	EventID string
}

// Deletion names a tracked entry whose occurrence vanished from the source.
type Deletion struct {
	ID      string
	EventID string
}

// Plan is the full set of operations one run intends, partitioned the way
// the state machine acts on them. Building a plan performs no I/O.
type Plan struct {
	Creates   []Item
	Updates   []Update
	Unchanged []Item
	Deletes   []Deletion

	// Duplicates counts source items dropped because an earlier item in the
	// same snapshot claimed the same composite id.
	Duplicates int
}

// Empty reports whether the plan requires no target calls at all.
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// CreateOnly returns a copy of the plan with updates and deletes dropped.
// This is the safety mode behind `sync --create-only`.
func (p Plan) CreateOnly() Plan {
	p.Updates = nil
	p.Deletes = nil
	return p
}

// BuildItems derives the composite id and content fingerprint for every
// occurrence. Duplicate ids are resolved later by BuildPlan.
func BuildItems(occs []model.Occurrence) []Item {
	items := make([]Item, 0, len(occs))
	for _, occ := range occs {
		items = append(items, Item{
			ID:          identity.Composite(occ),
			Fingerprint: identity.Fingerprint(occ),
			Occurrence:  occ,
		})
	}
	return items
}

// ErrEmptySource aborts a run whose snapshot parsed to zero occurrences
// while tracked in-window events exist. Deleting everything on the
// strength of an empty parse would turn an export glitch into a wiped
// calendar.
var ErrEmptySource = errors.New("source snapshot has no occurrences but tracked events exist")

// CheckSource enforces the empty-source guard. With an empty store (or
// only entries outside the window, which are never deletion candidates)
// an empty source is a harmless no-op.
func CheckSource(items []Item, entries map[string]state.Entry, winStart, winEnd time.Time) error {
	if len(items) > 0 {
		return nil
	}
	for _, e := range entries {
		if entryInWindow(e, winStart, winEnd) {
			return ErrEmptySource
		}
	}
	return nil
}

// BuildPlan partitions the current items against the store snapshot:
// new, existing-changed, existing-unchanged, and orphaned. Items sharing a
// composite id collapse keep-first so no id is ever created twice. Orphan
// scope is limited to entries whose recorded start lies inside the window;
// entries that aged out of the window are retained untouched. Deletions
// are sorted by composite id so plans are deterministic.
func BuildPlan(items []Item, entries map[string]state.Entry, winStart, winEnd time.Time) Plan {
	var plan Plan

	current := make(map[string]bool, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.ID] {
			// Keep-first: an id may be acted on only once per run.
			appLog.Warn("duplicate composite id in snapshot, keeping first",
				"id", it.ID,
				"uid", it.Occurrence.UID,
				"start", it.Occurrence.Start.Format(time.RFC3339),
			)
			plan.Duplicates++
			continue
		}
		seen[it.ID] = true
		current[it.ID] = true

		entry, ok := entries[it.ID]
		switch {
		case !ok:
			plan.Creates = append(plan.Creates, it)
		case entry.Fingerprint == it.Fingerprint:
			plan.Unchanged = append(plan.Unchanged, it)
		default:
			plan.Updates = append(plan.Updates, Update{Item: it, EventID: entry.EventID})
		}
	}

	for id, entry := range entries {
		if current[id] {
			continue
		}
		if !entryInWindow(entry, winStart, winEnd) {
			continue
		}
		plan.Deletes = append(plan.Deletes, Deletion{ID: id, EventID: entry.EventID})
	}
	sort.Slice(plan.Deletes, func(i, j int) bool {
		return plan.Deletes[i].ID < plan.Deletes[j].ID
	})

	return plan
}

// entryInWindow reports whether a tracked entry's recorded start lies in
// [winStart, winEnd). Entries with no recorded start (migrated from the
// legacy state layout) are treated as outside the window: with no evidence
// they are not aged-out history, deleting them is not safe.
func entryInWindow(e state.Entry, winStart, winEnd time.Time) bool {
	if e.Start.IsZero() {
		return false
	}
	return !e.Start.Before(winStart) && e.Start.Before(winEnd)
}
