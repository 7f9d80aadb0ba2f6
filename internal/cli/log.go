package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/health"
)

var (
	logDevice string
	logLimit  int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Dump the daemon's error event log, oldest first",
	Run:   runLog,
}

func init() {
	logCmd.Flags().StringVar(&logDevice, "device", "", "only show events for this device")
	logCmd.Flags().IntVar(&logLimit, "limit", 0, "only show the newest n events")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) {
	client, err := newAPIClient(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var dump health.LogDump
	if err := client.do(ctx, http.MethodGet, "/log", &dump); err != nil {
		slog.Error("Failed to read event log", "error", err)
		os.Exit(1)
	}
	printLog(os.Stdout, filterEvents(dump.Events, logDevice, logLimit), dump.Overflow)
}

func filterEvents(events []domain.ErrorEvent, device string, limit int) []domain.ErrorEvent {
	out := events
	if device != "" {
		out = make([]domain.ErrorEvent, 0, len(events))
		for _, ev := range events {
			if ev.DeviceID == device {
				out = append(out, ev)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func printLog(out io.Writer, events []domain.ErrorEvent, overflow uint64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tTIME\tDEVICE\tSEVERITY\tCATEGORY\tACTION\tMESSAGE")
	for _, ev := range events {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Seq, ev.Timestamp.Format(time.RFC3339Nano), ev.DeviceID, ev.Severity, ev.Category, ev.Action, ev.Message)
	}
	_ = w.Flush()
	if overflow > 0 {
		_, _ = fmt.Fprintf(out, "\n%d older events were overwritten\n", overflow)
	}
}
