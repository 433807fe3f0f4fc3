package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete every expired entry from the cache store",
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = st.Close()
	}()

	result, err := st.Cleanup(context.Background())
	if err != nil {
		slog.Error("Failed to sweep expired entries", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Removed %d expired entries, freed %d bytes\n", result.RemovedCount, result.FreedBytes)
}
