// Command import loads a pipe-delimited listings feed into the database.
//
// Usage:
//
//	import -file listings.txt [-dry-run] [-limit N] [-skip-log skipped.csv]
//	import -url https://example.com/feed.txt [-insecure]
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/carvalue/internal/config"
	"github.com/JonMunkholm/carvalue/internal/core"
	"github.com/JonMunkholm/carvalue/internal/database"
	"github.com/JonMunkholm/carvalue/internal/feed"
	"github.com/JonMunkholm/carvalue/internal/logging"
)

type options struct {
	file      string
	url       string
	dryRun    bool
	limit     int
	skipLog   string
	insecure  bool
	batchSize int
	jsonOut   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.file, "file", "", "path to a local feed file")
	flag.StringVar(&opts.url, "url", "", "URL of a remote feed")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "parse and validate only, write nothing")
	flag.IntVar(&opts.limit, "limit", 0, "maximum data rows to read (0 = all)")
	flag.StringVar(&opts.skipLog, "skip-log", "", "write skipped rows to this CSV file")
	flag.BoolVar(&opts.insecure, "insecure", false, "skip TLS verification for -url")
	flag.IntVar(&opts.batchSize, "batch-size", 0, "listings per flush (0 = configured default)")
	flag.BoolVar(&opts.jsonOut, "json", false, "print the summary as JSON")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("import failed", "error", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	location, err := opts.location()
	if err != nil {
		return err
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	// stdout carries the summary; logs go to stderr.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	src, err := feed.Open(ctx, location, feed.Options{
		Retries:  cfg.Import.FetchRetries,
		Backoff:  cfg.Import.FetchBackoff,
		Insecure: opts.insecure,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	store, closeStore, err := openStore(ctx, cfg, opts.dryRun)
	if err != nil {
		return err
	}
	defer closeStore()

	service, err := core.NewService(store, core.NewServiceConfig(cfg))
	if err != nil {
		return err
	}

	ctx = core.ContextWithRequester(ctx, "cli")
	result, err := service.RunImport(ctx, src, core.ImportOptions{
		Source:      src.Location,
		SourceLabel: src.Label,
		Size:        src.Size,
		Limit:       opts.limit,
		DryRun:      opts.dryRun,
		BatchSize:   opts.batchSize,
	})
	if result == nil {
		return err
	}

	if sumErr := printSummary(stdout, result, opts.jsonOut); sumErr != nil {
		return errors.Join(err, sumErr)
	}
	// JSON output already carries the details; only a skip log file is added.
	if opts.skipLog != "" || !opts.jsonOut {
		if logErr := writeSkipped(opts.skipLog, stdout, result.Stats); logErr != nil {
			slog.Warn("failed to write skip log", "error", logErr)
		}
	}
	return err
}

func (o options) location() (string, error) {
	switch {
	case o.file != "" && o.url != "":
		return "", errors.New("-file and -url are mutually exclusive")
	case o.file != "":
		return o.file, nil
	case o.url != "":
		return o.url, nil
	default:
		return "", fmt.Errorf("%w: use -file or -url", core.ErrNoSource)
	}
}

// openStore connects to Postgres, or uses an in-memory store for dry runs
// so validation works without a database.
func openStore(ctx context.Context, cfg *config.Config, dryRun bool) (core.Store, func(), error) {
	if dryRun {
		return database.NewMemoryStore(), func() {}, nil
	}
	if cfg.Database.AutoMigrate {
		if err := database.MigrateUp(ctx, cfg.Database.URL); err != nil {
			return nil, nil, err
		}
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return database.NewPostgresStore(pool), pool.Close, nil
}

func writeSkipped(path string, stdout io.Writer, stats *core.ImportStats) error {
	if stats == nil || len(stats.SkippedDetails) == 0 {
		return nil
	}

	out := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"vin", "reason"}); err != nil {
		return err
	}
	for _, row := range stats.SkippedDetails {
		if err := w.Write([]string{row.Identifier, string(row.Reason)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func printSummary(w io.Writer, result *core.ImportRun, asJSON bool) error {
	stats := result.Stats
	if stats == nil {
		stats = core.NewImportStats()
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ID             string                  `json:"id"`
			DryRun         bool                    `json:"dry_run"`
			Status         core.ImportRunStatus    `json:"status"`
			TotalRows      int                     `json:"total_rows"`
			InsertedRows   int                     `json:"inserted_rows"`
			SkippedRows    int                     `json:"skipped_rows"`
			SkippedReasons map[core.SkipReason]int `json:"skipped_reasons"`
			SkippedDetails []core.SkippedRow       `json:"skipped_details"`
		}{
			ID:             result.ID.String(),
			DryRun:         result.DryRun,
			Status:         result.Status,
			TotalRows:      stats.TotalRows,
			InsertedRows:   stats.InsertedRows,
			SkippedRows:    stats.SkippedRows,
			SkippedReasons: stats.SkippedReasons,
			SkippedDetails: stats.SkippedDetails,
		})
	}

	mode := "import"
	if result.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", mode, result.Status, result.ID)
	fmt.Fprintf(w, "total:    %d\n", stats.TotalRows)
	fmt.Fprintf(w, "inserted: %d\n", stats.InsertedRows)
	fmt.Fprintf(w, "skipped:  %d\n", stats.SkippedRows)

	reasons := make([]core.SkipReason, 0, len(stats.SkippedReasons))
	for r := range stats.SkippedReasons {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  %-20s %d\n", r, stats.SkippedReasons[r])
	}
	return nil
}
