package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cryptopipe/internal/extraction/recovery"
)

var (
	retryLimit int
	retryForce bool
	retryList  bool
	purgeYes   bool
)

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Retry windows that failed with a transient error",
	Run:   runRetryFailed,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <asset-id>",
	Short: "Delete every stored row of one asset",
	Args:  cobra.ExactArgs(1),
	Run:   runPurge,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the market data API is reachable",
	Run:   runPing,
}

func init() {
	retryFailedCmd.Flags().IntVar(&retryLimit, "limit", 0, "maximum windows to retry (0 = all)")
	retryFailedCmd.Flags().BoolVar(&retryForce, "force", false, "ignore backoff and retry every queued window now")
	retryFailedCmd.Flags().BoolVar(&retryList, "list", false, "only list queued windows")
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm deletion")
	rootCmd.AddCommand(retryFailedCmd, purgeCmd, pingCmd)
}

func runRetryFailed(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	if retryList {
		pending, err := app.PendingFailures(ctx)
		if err != nil {
			slog.Error("Failed to list failed windows", "error", err)
			os.Exit(1)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "ID\tASSET\tWINDOW\tKIND\tRETRIES\tFAILED_AT\tERROR")
		for _, fw := range pending {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				fw.ID, fw.Asset.ProviderID, fw.Window, fw.ErrorKind, fw.RetryCount,
				fw.FailedAt.Format(time.RFC3339), fw.Error)
		}
		_ = w.Flush()
		return
	}

	res, err := app.RetryFailed(ctx, recovery.DrainOptions{Limit: retryLimit, Force: retryForce})
	if err != nil {
		slog.Error("Failed to drain failed windows", "error", err)
		os.Exit(1)
	}
	printDrain(res)
}

func printDrain(res recovery.DrainResult) {
	fmt.Printf("resolved %d, retried %d, dropped %d, deferred %d\n",
		res.Resolved, res.Retried, res.Dropped, res.Deferred)
}

func runPurge(cmd *cobra.Command, args []string) {
	if !purgeYes {
		fmt.Printf("Refusing to delete %s without --yes\n", args[0])
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	n, err := app.Purge(ctx, args[0])
	if err != nil {
		slog.Error("Failed to purge asset", "asset", args[0], "error", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d rows for %s\n", n, args[0])
}

func runPing(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	msg, err := app.Ping(ctx)
	if err != nil {
		slog.Error("Market data API unreachable", "error", err)
		os.Exit(1)
	}
	fmt.Println(msg)
}
