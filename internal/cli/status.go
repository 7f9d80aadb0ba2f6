package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/nicguard/internal/faults/health"
	redisclient "github.com/vietddude/nicguard/internal/infra/redis"
)

var statusSource string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of every managed device",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSource, "source", "http", "where to read status from: http or redis")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		report *health.HealthReport
		err    error
	)
	switch statusSource {
	case "http":
		report, err = statusFromHTTP(ctx, cmd)
	case "redis":
		report, err = statusFromRedis(ctx, cmd)
	default:
		err = fmt.Errorf("unknown source %q", statusSource)
	}
	if err != nil {
		slog.Error("Failed to read status", "error", err)
		os.Exit(1)
	}
	printStatus(os.Stdout, report)
}

func statusFromHTTP(ctx context.Context, cmd *cobra.Command) (*health.HealthReport, error) {
	client, err := newAPIClient(cmd)
	if err != nil {
		return nil, err
	}
	var report health.HealthReport
	if err := client.do(ctx, http.MethodGet, "/health/detailed", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func statusFromRedis(ctx context.Context, cmd *cobra.Command) (*health.HealthReport, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("redis.url is not configured")
	}
	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Close()
	}()

	snap, err := redisclient.NewSnapshotPublisher(client, cfg.Redis, nil).Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("no snapshot available: %w", err)
	}

	failedOver := make(map[string]bool)
	for _, ep := range snap.Coordinator.Episodes {
		if ep.EndedAt == nil {
			failedOver[ep.Failing] = true
		}
	}
	report := &health.HealthReport{
		FailoverActive: snap.Coordinator.FailoverActive,
		ActiveDevices:  snap.Coordinator.ActiveDevices,
		PrimaryDevice:  snap.Coordinator.PrimaryDevice,
		BackupDevice:   snap.Coordinator.BackupDevice,
		Devices:        make(map[string]health.DeviceHealth, len(snap.Devices)),
		CheckedAt:      snap.PublishedAt,
	}
	for _, st := range snap.Devices {
		dh := health.DeviceHealth{
			DeviceID:         st.DeviceID,
			HealthScore:      st.HealthScore,
			ErrorRate:        st.ErrorRatePercent,
			Consecutive:      st.ConsecutiveErrors,
			RecoveryAttempts: st.RecoveryAttempts,
			Level:            st.RecoveryStrategy,
			Link:             st.Link,
			Disabled:         st.AdapterDisabled,
			FailedOver:       failedOver[st.DeviceID],
		}
		dh.Status = health.DeviceStatus(dh)
		report.Devices[st.DeviceID] = dh
	}
	report.SystemStatus = health.Aggregate(*report)
	return report, nil
}

func printStatus(out io.Writer, report *health.HealthReport) {
	_, _ = fmt.Fprintf(out, "System: %s (active %d, primary %s", report.SystemStatus, report.ActiveDevices, report.PrimaryDevice)
	if report.FailoverActive {
		_, _ = fmt.Fprintf(out, ", failover to %s", report.BackupDevice)
	}
	_, _ = fmt.Fprintf(out, ") at %s\n\n", report.CheckedAt.Format(time.RFC3339))

	ids := make([]string, 0, len(report.Devices))
	for id := range report.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DEVICE\tSTATUS\tHEALTH\tRATE%\tCONSEC\tATTEMPTS\tLEVEL\tLINK")
	for _, id := range ids {
		d := report.Devices[id]
		status := string(d.Status)
		if d.Disabled {
			status += " (disabled)"
		} else if d.FailedOver {
			status += " (failed over)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			id, status, d.HealthScore, d.ErrorRate, d.Consecutive, d.RecoveryAttempts, d.Level, d.Link)
	}
	_ = w.Flush()
}
