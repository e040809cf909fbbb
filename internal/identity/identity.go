// Package identity derives the stable identifiers that link source
// occurrences to mirrored target events across runs.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"calbridge/internal/model"
)

// sep keeps hash inputs unambiguous; it cannot occur in calendar text.
const sep = "\x1f"

// Derive returns the composite identifier for one concrete occurrence:
// a lowercase hex digest over the source UID, the UTC start instant, and
// the recurrence id of overridden instances. The start time is part of the
// input on purpose: an instance moved to a new time gets a new identity,
// which downstream surfaces as delete-old plus create-new.
func Derive(uid string, start time.Time, recurrenceID string) string {
	var b strings.Builder
	b.WriteString(uid)
	b.WriteString(sep)
	b.WriteString(start.UTC().Format(time.RFC3339))
	if recurrenceID != "" {
		b.WriteString(sep)
		b.WriteString(recurrenceID)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:32]
}

// Composite derives the occurrence's composite identifier.
func Composite(occ model.Occurrence) string {
	return Derive(occ.UID, occ.Start, occ.RecurrenceID)
}

// Fingerprint hashes the content of an occurrence. Two occurrences with
// equal fingerprints need no target update. Times are normalized to UTC so
// the digest does not depend on the wall-clock representation.
func Fingerprint(occ model.Occurrence) string {
	fields := []string{
		occ.Summary,
		occ.Location,
		occ.Description,
		occ.Start.UTC().Format(time.RFC3339),
		occ.End.UTC().Format(time.RFC3339),
		strconv.FormatBool(occ.AllDay),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, sep)))
	return hex.EncodeToString(sum[:])
}
