package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Remove a single entry from the cache store",
	Args:  cobra.ExactArgs(1),
	Run:   runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) {
	key := args[0]

	cfg := loadConfig()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Delete(context.Background(), key); err != nil {
		slog.Error("Failed to delete entry", "key", key, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %s\n", key)
}
