package ics

import (
	"strings"
	"testing"
)

func TestSanitize_StripsVendorProperties(t *testing.T) {
	raw := strings.Join([]string{
		"BEGIN:VEVENT",
		"SUMMARY:Standup",
		"X-MICROSOFT-EXCHANGE-MODIFIED:20260301T000000Z",
		"X-MS-OLK-APPTSEQTIME:20260301T000000Z",
		"X-MICROSOFT-DISALLOW-COUNTER:TRUE",
		"END:VEVENT",
	}, "\n")

	got := string(Sanitize([]byte(raw)))
	for _, stripped := range []string{"X-MICROSOFT-EXCHANGE", "X-MS-OLK", "X-MICROSOFT-DISALLOW"} {
		if strings.Contains(got, stripped) {
			t.Errorf("%s survived sanitizing:\n%s", stripped, got)
		}
	}
	if !strings.Contains(got, "SUMMARY:Standup") {
		t.Errorf("ordinary property removed:\n%s", got)
	}
}

func TestSanitize_KeepsAllDayAndBusyMarkers(t *testing.T) {
	raw := strings.Join([]string{
		"X-MICROSOFT-CDO-ALLDAYEVENT:TRUE",
		"X-MICROSOFT-CDO-BUSYSTATUS:BUSY",
	}, "\n")

	got := string(Sanitize([]byte(raw)))
	if !strings.Contains(got, "X-MICROSOFT-CDO-ALLDAYEVENT:TRUE") {
		t.Error("all-day marker stripped")
	}
	if !strings.Contains(got, "X-MICROSOFT-CDO-BUSYSTATUS:BUSY") {
		t.Error("busy marker stripped")
	}
}

func TestSanitize_RemovesFoldedContinuations(t *testing.T) {
	raw := strings.Join([]string{
		"X-MICROSOFT-EXCHANGE-BLOB:aaaa",
		" bbbb-folded-continuation",
		"\tcccc-tab-continuation",
		"SUMMARY:Kept",
	}, "\n")

	got := string(Sanitize([]byte(raw)))
	if strings.Contains(got, "folded-continuation") || strings.Contains(got, "tab-continuation") {
		t.Errorf("continuation lines of a stripped property survived:\n%s", got)
	}
	if !strings.Contains(got, "SUMMARY:Kept") {
		t.Errorf("following property lost:\n%s", got)
	}
}

func TestSanitize_KeepsContinuationsOfKeptProperties(t *testing.T) {
	raw := strings.Join([]string{
		"DESCRIPTION:A long note",
		" that folds across lines",
	}, "\n")

	got := string(Sanitize([]byte(raw)))
	if !strings.Contains(got, " that folds across lines") {
		t.Errorf("kept property lost its continuation:\n%s", got)
	}
}

func TestSplitCalendars(t *testing.T) {
	t.Run("single block", func(t *testing.T) {
		blocks := SplitCalendars([]byte("BEGIN:VCALENDAR\nVERSION:2.0\nEND:VCALENDAR\n"))
		if len(blocks) != 1 {
			t.Fatalf("got %d blocks", len(blocks))
		}
	})

	t.Run("concatenated blocks split apart", func(t *testing.T) {
		raw := "BEGIN:VCALENDAR\nX:1\nEND:VCALENDAR\nBEGIN:VCALENDAR\nX:2\nEND:VCALENDAR\n"
		blocks := SplitCalendars([]byte(raw))
		if len(blocks) != 2 {
			t.Fatalf("got %d blocks, want 2", len(blocks))
		}
		if !strings.Contains(string(blocks[0]), "X:1") || !strings.Contains(string(blocks[1]), "X:2") {
			t.Errorf("blocks mixed up: %q / %q", blocks[0], blocks[1])
		}
	})

	t.Run("junk preamble dropped", func(t *testing.T) {
		raw := "exporter log line\nBEGIN:VCALENDAR\nEND:VCALENDAR"
		blocks := SplitCalendars([]byte(raw))
		if len(blocks) != 1 {
			t.Fatalf("got %d blocks", len(blocks))
		}
		if strings.Contains(string(blocks[0]), "exporter log line") {
			t.Error("preamble kept inside block")
		}
	})

	t.Run("missing terminator appended", func(t *testing.T) {
		raw := "BEGIN:VCALENDAR\nX:1\nBEGIN:VCALENDAR\nX:2\nEND:VCALENDAR"
		blocks := SplitCalendars([]byte(raw))
		if len(blocks) != 2 {
			t.Fatalf("got %d blocks", len(blocks))
		}
		if !strings.HasSuffix(string(blocks[0]), "END:VCALENDAR") {
			t.Errorf("first block not terminated: %q", blocks[0])
		}
	})

	t.Run("no calendar at all", func(t *testing.T) {
		if blocks := SplitCalendars([]byte("nothing here")); blocks != nil {
			t.Errorf("got %d blocks from junk", len(blocks))
		}
	})
}
