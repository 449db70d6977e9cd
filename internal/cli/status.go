package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cryptopipe/internal/core/domain"
)

var (
	logsLimit int
	queryFrom string
	queryTo   string
)

var statusCmd = &cobra.Command{
	Use:   "status [asset-id...]",
	Short: "Show stored rows per asset",
	Run:   runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent extraction log entries",
	Run:   runLogs,
}

var queryCmd = &cobra.Command{
	Use:   "query <asset-id>",
	Short: "Print stored market data for one asset",
	Args:  cobra.ExactArgs(1),
	Run:   runQuery,
}

func init() {
	logsCmd.Flags().IntVar(&logsLimit, "limit", 20, "number of entries to show")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "first date, YYYY-MM-DD (default: 30 days ago)")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "last date, YYYY-MM-DD (default: today)")
	rootCmd.AddCommand(statusCmd, logsCmd, queryCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	stats, err := app.Status(ctx, args...)
	if err != nil {
		slog.Error("Failed to query stats", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ASSET\tSYMBOL\tRECORDS\tFIRST\tLAST")
	for _, a := range stats.Assets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			a.AssetID, a.Symbol, a.Records, a.FirstDate.Format(domain.DateLayout), a.LastDate.Format(domain.DateLayout))
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t\t%d\t\t\n", stats.TotalRecords)
	_ = w.Flush()
}

func runLogs(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	entries, stats, err := app.Logs(ctx, logsLimit)
	if err != nil {
		slog.Error("Failed to query extraction log", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tLOGGED\tASSET\tWINDOW\tSTATUS\tRECORDS\tSECONDS\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s..%s\t%s\t%d\t%.2f\t%s\n",
			e.ID,
			e.LoggedAt.Format(time.RFC3339),
			e.AssetID,
			e.FromDate.Format(domain.DateLayout),
			e.ToDate.Format(domain.DateLayout),
			e.Status,
			e.RecordsInserted,
			e.DurationSeconds,
			e.ErrorMessage.ValueOrZero(),
		)
	}
	_ = w.Flush()

	last := "never"
	if stats.LastExtraction.Valid {
		last = stats.LastExtraction.Time.Format(time.RFC3339)
	}
	fmt.Printf("\n%d extractions (%d success, %d partial, %d failed), %d records, avg %.2fs, last %s\n",
		stats.TotalExtractions, stats.Successful, stats.Partial, stats.Failed,
		stats.TotalRecords, stats.AvgDurationSeconds, last)
}

func runQuery(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := signalContext()
	defer cancel()

	to := domain.TruncateDay(time.Now())
	from := to.AddDate(0, 0, -(cfg.Extraction.DefaultDays - 1))
	var err error
	if queryTo != "" {
		if to, err = time.Parse(domain.DateLayout, queryTo); err != nil {
			slog.Error("Invalid --to", "error", err)
			os.Exit(1)
		}
	}
	if queryFrom != "" {
		if from, err = time.Parse(domain.DateLayout, queryFrom); err != nil {
			slog.Error("Invalid --from", "error", err)
			os.Exit(1)
		}
	}

	app := openApp(ctx, cfg)
	defer func() { _ = app.Close() }()

	points, err := app.Query(ctx, args[0], from, to)
	if err != nil {
		slog.Error("Failed to query market data", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DATE\tTIMESTAMP_MS\tPRICE\tMARKET_CAP\tVOLUME_24H")
	for _, p := range points {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			p.Date.Format(domain.DateLayout), p.TimestampMs, p.Price, p.MarketCap, p.Volume24h)
	}
	_ = w.Flush()
}
