package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status [document_id]",
	Short: "Show stored classification progress per document",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("status requires database.url to be configured")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if len(args) == 1 {
		printCategoryBreakdown(ctx, db, args[0])
		return
	}

	rows, err := db.QueryContext(ctx, `
		SELECT r.document_id, COUNT(*) AS total, COUNT(c.id) AS classified
		FROM raw_incidents r
		LEFT JOIN classified_incidents c ON c.raw_incident_id = r.id
		GROUP BY r.document_id
		ORDER BY r.document_id`)
	if err != nil {
		slog.Error("Failed to query documents", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DOCUMENT\tROWS\tCLASSIFIED")

	for rows.Next() {
		var documentID string
		var total, classified int64
		if err := rows.Scan(&documentID, &total, &classified); err != nil {
			slog.Error("Failed to scan document row", "error", err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", documentID, total, classified)
	}
	_ = w.Flush()
}

func printCategoryBreakdown(ctx context.Context, db *postgres.DB, documentID string) {
	buckets, err := postgres.NewIncidentRepo(db).CategoryBreakdown(ctx, documentID)
	if err != nil {
		slog.Error("Failed to query classifications", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CATEGORIA\tCOUNT")

	for _, b := range buckets {
		label := b.Categoria
		if label == "" {
			label = "(sin clasificar)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", label, b.Count)
	}
	_ = w.Flush()
}
