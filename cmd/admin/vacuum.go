package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/cryptopipe/internal/core/config"
	"github.com/vietddude/cryptopipe/internal/infra/storage/clickhouse"
)

var tables = []string{"market_data", "extraction_log"}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	stylelog.InitDefault()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		err = vacuumPostgres(ctx, cfg.Database.URL)
	case config.StorageDriverClickHouse:
		err = optimizeClickHouse(ctx, cfg.ClickHouse.DSN)
	default:
		fmt.Printf("Nothing to do for storage driver %q\n", cfg.Storage.Driver)
		return
	}
	if err != nil {
		slog.Error("Maintenance failed", "error", err)
		os.Exit(1)
	}
}

func vacuumPostgres(ctx context.Context, url string) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range tables {
		start := time.Now()
		// VACUUM cannot run inside a transaction block; ExecContext runs it standalone.
		if _, err := db.ExecContext(ctx, "VACUUM ANALYZE "+table); err != nil {
			return fmt.Errorf("vacuum %s: %w", table, err)
		}
		slog.Info("Vacuumed table", "table", table, "duration", time.Since(start))
	}
	return nil
}

func optimizeClickHouse(ctx context.Context, dsn string) error {
	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	if err := clickhouse.Optimize(ctx, conn); err != nil {
		return err
	}
	slog.Info("Optimized ClickHouse tables", "duration", time.Since(start))
	return nil
}
