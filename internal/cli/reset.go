package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/nicguard/internal/core/domain"
)

var resetCmd = &cobra.Command{
	Use:   "reset [device]",
	Short: "Clear a device's statistics and re-enable automatic recovery",
	Args:  cobra.ExactArgs(1),
	Run:   runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) {
	id := args[0]
	client, err := newAPIClient(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var st domain.DeviceErrorState
	if err := client.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/reset", &st); err != nil {
		slog.Error("Failed to reset device", "device", id, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset %s (health %d, level %s)\n", st.DeviceID, st.HealthScore, st.RecoveryStrategy)
}
