package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	redisclient "github.com/duchft/blobcached/internal/infra/redis"
)

var (
	warmList  bool
	warmClear bool
)

var warmCmd = &cobra.Command{
	Use:   "warm [kind:key ...]",
	Short: "Queue content for background prefetching",
	Long:  `Queues warm tasks on the configured Redis instance. A task is "kind:key" where kind is json, binary, or image; a bare key warms as binary.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if warmList || warmClear {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	Run: runWarm,
}

func init() {
	warmCmd.Flags().BoolVar(&warmList, "list", false, "list pending warm tasks instead of queueing")
	warmCmd.Flags().BoolVar(&warmClear, "clear", false, "drop every pending warm task")
	warmCmd.MarkFlagsMutuallyExclusive("list", "clear")
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("No redis url configured, cannot queue warm tasks")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx := context.Background()

	if warmList {
		listWarmQueue(ctx, client)
		return
	}
	if warmClear {
		if err := client.ClearQueue(ctx); err != nil {
			slog.Error("Failed to clear warm queue", "error", err)
			os.Exit(1)
		}
		fmt.Println("Warm queue cleared")
		return
	}

	for _, task := range args {
		kind, key, err := redisclient.ParseTask(task)
		if err != nil {
			slog.Error("Invalid warm task", "task", task, "error", err)
			os.Exit(1)
		}
		if err := client.PushTask(ctx, redisclient.FormatTask(kind, key)); err != nil {
			slog.Error("Failed to queue warm task", "task", task, "error", err)
			os.Exit(1)
		}
	}

	length, err := client.QueueLength(ctx)
	if err != nil {
		fmt.Printf("Queued %d tasks\n", len(args))
		return
	}
	fmt.Printf("Queued %d tasks (%d pending)\n", len(args), length)
}

func listWarmQueue(ctx context.Context, client *redisclient.Client) {
	tasks, err := client.GetAllTasks(ctx)
	if err != nil {
		slog.Error("Failed to list warm queue", "error", err)
		os.Exit(1)
	}
	if len(tasks) == 0 {
		fmt.Println("Warm queue is empty")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "POS\tKIND\tKEY")
	for i, task := range tasks {
		kind, key, err := redisclient.ParseTask(task)
		if err != nil {
			kind, key = "?", task
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, kind, key)
	}
	_ = w.Flush()
}
