package ics

import "strings"

// Desktop exports arrive with vendor X- properties that trip strict parsers.
// The sanitizer removes the troublesome ones while preserving the markers the
// all-day and busy/free logic depends on.

// keepPrefixes lists properties that must survive sanitizing even though
// they match no strip rule today; the explicit list guards against future
// strip-rule widening.
var keepPrefixes = []string{
	"X-MICROSOFT-CDO-ALLDAYEVENT",
	"X-MICROSOFT-CDO-BUSYSTATUS",
}

var stripPrefixes = []string{
	"X-MICROSOFT-EXCHANGE-",
	"X-MICROSOFT-DISALLOW-",
	"X-MICROSOFT-DONOTFORWARD",
	"X-MS-OLK-",
}

func shouldStripLine(line string) bool {
	upper := strings.ToUpper(strings.TrimSpace(line))
	for _, keep := range keepPrefixes {
		if strings.HasPrefix(upper, keep) {
			return false
		}
	}
	for _, strip := range stripPrefixes {
		if strings.HasPrefix(upper, strip) {
			return true
		}
	}
	return false
}

// Sanitize filters vendor properties out of raw calendar text. A removed
// property's folded continuation lines (leading space or tab) are removed
// with it.
func Sanitize(content []byte) []byte {
	lines := strings.Split(string(content), "\n")
	cleaned := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		if shouldStripLine(lines[i]) {
			i++
			for i < len(lines) && (strings.HasPrefix(lines[i], " ") || strings.HasPrefix(lines[i], "\t")) {
				i++
			}
			continue
		}
		cleaned = append(cleaned, lines[i])
		i++
	}

	return []byte(strings.Join(cleaned, "\n"))
}

// SplitCalendars splits raw text that may hold several concatenated
// VCALENDAR blocks into one slice entry per block. Text before the first
// BEGIN:VCALENDAR is dropped; a block missing its END:VCALENDAR terminator
// gets one appended so each entry parses on its own.
func SplitCalendars(content []byte) [][]byte {
	const begin = "BEGIN:VCALENDAR"

	text := string(content)
	var starts []int
	for off := 0; ; {
		idx := strings.Index(text[off:], begin)
		if idx < 0 {
			break
		}
		starts = append(starts, off+idx)
		off += idx + len(begin)
	}
	if len(starts) == 0 {
		return nil
	}

	blocks := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		block := strings.TrimSpace(text[s:end])
		if block == "" {
			continue
		}
		if !strings.HasSuffix(block, "END:VCALENDAR") {
			block += "\nEND:VCALENDAR"
		}
		blocks = append(blocks, []byte(block))
	}
	return blocks
}
