package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all entries from the cache store",
	Run:   runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Clear(context.Background()); err != nil {
		slog.Error("Failed to clear cache", "error", err)
		os.Exit(1)
	}

	fmt.Println("Cache cleared")
}
