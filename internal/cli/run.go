package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cryptopipe/internal/core/config"
	"github.com/vietddude/cryptopipe/internal/core/domain"
	"github.com/vietddude/cryptopipe/internal/extraction/orchestrator"
	"github.com/vietddude/cryptopipe/internal/extraction/recovery"
)

var (
	runFrom   string
	runTo     string
	runAssets string
	runDrain  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract market data for every configured asset",
	Run:   runExtraction,
}

var updateCmd = &cobra.Command{
	Use:   "update <symbol> <provider-id>",
	Short: "Extract market data for a single asset",
	Args:  cobra.ExactArgs(2),
	Run:   runUpdate,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, updateCmd} {
		c.Flags().StringVar(&runFrom, "from", "", "first date, YYYY-MM-DD (overrides extraction.from_date)")
		c.Flags().StringVar(&runTo, "to", "", "last date, YYYY-MM-DD (overrides extraction.to_date)")
	}
	runCmd.Flags().StringVar(&runAssets, "assets", "", "comma separated symbol:provider_id list (overrides extraction.assets)")
	runCmd.Flags().BoolVar(&runDrain, "drain", false, "retry due failed windows after the run")

	rootCmd.AddCommand(runCmd, updateCmd)
}

// applyRunFlags folds command line overrides into cfg.
func applyRunFlags(cfg *config.AppConfig, from, to, assets string) error {
	if from != "" {
		cfg.Extraction.FromDate = from
	}
	if to != "" {
		cfg.Extraction.ToDate = to
	}
	if assets != "" {
		list, err := domain.ParseAssetList(assets)
		if err != nil {
			return err
		}
		cfg.Extraction.Assets = list
	}
	return nil
}

func runExtraction(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if err := applyRunFlags(cfg, runFrom, runTo, runAssets); err != nil {
		slog.Error("Invalid flags", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	window, err := app.Window(time.Now())
	if err != nil {
		slog.Error("Invalid window", "error", err)
		os.Exit(1)
	}

	sum, err := app.Run(ctx, app.Assets(), window)
	if sum != nil {
		printSummary(sum)
	}
	if err != nil {
		slog.Error("Extraction run aborted", "error", err)
		os.Exit(1)
	}

	if runDrain {
		res, err := app.RetryFailed(ctx, recovery.DrainOptions{})
		if err != nil {
			slog.Error("Failed to drain failed windows", "error", err)
			os.Exit(1)
		}
		printDrain(res)
	}

	if sum.HasFailures() {
		os.Exit(1)
	}
}

func runUpdate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	asset := domain.Asset{Symbol: args[0], ProviderID: args[1]}
	if err := applyRunFlags(cfg, runFrom, runTo, ""); err != nil {
		slog.Error("Invalid flags", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	window, err := app.Window(time.Now())
	if err != nil {
		slog.Error("Invalid window", "error", err)
		os.Exit(1)
	}

	sum, err := app.UpdateAsset(ctx, asset, window)
	if sum != nil {
		printSummary(sum)
	}
	if err != nil || sum.HasFailures() {
		os.Exit(1)
	}
}

func printSummary(sum *orchestrator.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "RUN %s\t%s\n", sum.RunID, sum.Window)
	_, _ = fmt.Fprintln(w, "ASSET\tSTATUS\tINSERTED\tDROPPED\tDURATION\tERROR")
	for _, o := range sum.Outcomes {
		msg := ""
		if o.Err != nil {
			msg = o.Err.Error()
			if errors.Is(o.Err, domain.ErrCircuitOpen) {
				msg = "circuit open"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			o.Asset.Symbol, o.Status, o.RecordsInserted, o.Dropped, o.Duration.Round(time.Millisecond), msg)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d/%d ok\t%d\t\t%s\t\n",
		sum.Succeeded, sum.Attempted, sum.RecordsInserted, sum.Duration.Round(time.Millisecond))
	_ = w.Flush()
}
