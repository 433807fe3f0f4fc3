package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/duchft/blobcached/internal/core/config"
	"github.com/duchft/blobcached/internal/infra/store"
	"github.com/duchft/blobcached/internal/infra/store/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of the cache store",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openStore opens the configured store for offline administration. Only the
// sqlite backend has state that outlives the daemon.
func openStore(cfg *config.AppConfig) (store.Store, error) {
	if cfg.Cache.Backend != "sqlite" {
		return nil, fmt.Errorf("backend %q has no persistent state to administer", cfg.Cache.Backend)
	}

	db, err := sqlite.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return sqlite.New(db, cfg.Cache.Limits())
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = st.Close()
	}()

	stats, err := st.Stats(context.Background())
	if err != nil {
		slog.Error("Failed to read stats", "error", err)
		os.Exit(1)
	}

	oldest := "-"
	if stats.OldestEntry != nil {
		oldest = stats.OldestEntry.Format(time.RFC3339)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SIZE\tENTRIES\tOLDEST\tSCHEMA")
	_, _ = fmt.Fprintf(w, "%d/%d\t%d/%d\t%s\t%d\n",
		stats.TotalSizeBytes, cfg.Cache.MaxSizeBytes,
		stats.EntryCount, cfg.Cache.MaxEntries,
		oldest, stats.SchemaVersion,
	)
	_ = w.Flush()
}
