package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/proyecto-sentinel/sentinel/internal/core/config"
	"github.com/proyecto-sentinel/sentinel/internal/infra/gateway"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/postgres"
	"github.com/proyecto-sentinel/sentinel/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Import an incident spreadsheet and print its document id",
	Args:  cobra.ExactArgs(1),
	Run:   runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	path := args[0]
	ctx := context.Background()

	documentID, imported, err := ingestFile(ctx, cfg, path)
	if err != nil {
		slog.Error("Ingest failed", "path", path, "error", err)
		os.Exit(1)
	}

	fmt.Printf("document_id: %s\nrows_imported: %d\n", documentID, imported)
}

func ingestFile(ctx context.Context, cfg *config.AppConfig, path string) (string, int, error) {
	// Remote gateway runs on its own host, so the file is uploaded rather
	// than referenced by path.
	if cfg.Gateway.URL != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", 0, fmt.Errorf("failed to open source file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		client := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Timeout, gateway.DefaultRetryConfig)
		return client.PrepareUpload(ctx, filepath.Base(path), f)
	}

	if cfg.Database.URL == "" {
		return "", 0, fmt.Errorf("ingest requires gateway.url or database.url to be configured")
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return "", 0, fmt.Errorf("failed to init db: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()
	if err := db.Migrate("migrations"); err != nil {
		return "", 0, fmt.Errorf("failed to migrate db: %w", err)
	}

	return ingest.IngestFile(ctx, postgres.NewIncidentRepo(db), path)
}
