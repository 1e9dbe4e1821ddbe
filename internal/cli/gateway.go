package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/proyecto-sentinel/sentinel/internal/control"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the storage gateway",
	Long:  `Serves the storage gateway HTTP surface: sheet ingestion, chunk reads, atomic classified writes and final export.`,
	Run:   runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewGatewayService(cfg)
	if err != nil {
		slog.Error("Failed to initialize gateway", "error", err)
		os.Exit(1)
	}
	runUntilSignal(app, "gateway")
}
