package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/duchft/blobcached/internal/core/domain"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import the full cache state",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Dump the cache state as JSON ('-' for stdout)",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the cache state from a JSON dump ('-' for stdin)",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotImport,
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = st.Close()
	}()

	snap, err := st.Export(context.Background())
	if err != nil {
		slog.Error("Failed to export snapshot", "error", err)
		os.Exit(1)
	}

	out := os.Stdout
	if args[0] != "-" {
		out, err = os.Create(args[0])
		if err != nil {
			slog.Error("Failed to create snapshot file", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = out.Close()
		}()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		slog.Error("Failed to write snapshot", "error", err)
		os.Exit(1)
	}

	if args[0] != "-" {
		fmt.Printf("Exported %d entries to %s\n", len(snap.Entries), args[0])
	}
}

func runSnapshotImport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	in := os.Stdin
	if args[0] != "-" {
		var err error
		in, err = os.Open(args[0])
		if err != nil {
			slog.Error("Failed to open snapshot file", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = in.Close()
		}()
	}

	var snap domain.Snapshot
	if err := json.NewDecoder(in).Decode(&snap); err != nil {
		slog.Error("Failed to parse snapshot", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Import(context.Background(), &snap); err != nil {
		slog.Error("Failed to import snapshot", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Imported %d entries\n", len(snap.Entries))
}
