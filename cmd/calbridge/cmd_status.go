package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"calbridge/internal/config"
	"calbridge/internal/health"
	"calbridge/internal/state"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync health and the tracked-event count",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return renderStatus(os.Stdout, cfg)
}

// renderStatus prints whatever can be read. The health file, not this
// command's exit code, is the monitoring interface: a corrupt document or
// an unreadable state file degrades to partial output instead of a
// failing status invocation.
func renderStatus(out io.Writer, cfg *config.Config) error {
	doc, err := health.Read(cfg.HealthPath)
	if err != nil {
		doc = health.Document{}
	}

	tracked := "unavailable"
	if st, serr := state.Open(cfg.StatePath); serr == nil {
		tracked = strconv.Itoa(st.Len())
	}

	status := doc.Status
	if status == "" {
		status = "never synced"
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", status)
	if !doc.LastSuccessfulSync.IsZero() {
		fmt.Fprintf(w, "Last successful sync:\t%s (%s ago)\n",
			doc.LastSuccessfulSync.Local().Format(time.RFC3339),
			time.Since(doc.LastSuccessfulSync).Round(time.Second))
	}
	if doc.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "Consecutive failures:\t%d\n", doc.ConsecutiveFailures)
	}
	if doc.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", doc.LastError)
	}
	fmt.Fprintf(w, "Tracked events:\t%s\n", tracked)
	fmt.Fprintf(w, "Target calendar:\t%s\n", cfg.GoogleCalendarID)
	fmt.Fprintf(w, "State file:\t%s\n", cfg.StatePath)
	return w.Flush()
}
