package cmd

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/store"
)

// tables lists the store tables reported after compaction.
var tables = []string{
	"bundles", "prototypes", "upgrades", "objects", "hostcomponents",
	"cluster_binds", "configs", "concerns", "concern_links", "tasks",
}

// compactReport is the outcome of one compaction.
type compactReport struct {
	SizeBefore int64
	SizeAfter  int64
	Rows       map[string]int64
}

// Reclaimed returns the bytes freed by VACUUM.
func (r compactReport) Reclaimed() int64 { return r.SizeBefore - r.SizeAfter }

// ExecuteCompactDB runs VACUUM (and optionally ANALYZE) on the store.
func ExecuteCompactDB(args []string) error {
	fs := flag.NewFlagSet("compact-db", flag.ExitOnError)
	dbPath := fs.String("db", getEnv("STACKFORM_DB_PATH", "./stackform.db"), "Path to SQLite database")
	analyze := fs.Bool("analyze", true, "Run ANALYZE after VACUUM")
	verbose := fs.Bool("verbose", false, "Enable verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	st, err := OpenStore(ctx, *dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("compacting database", zap.String("path", *dbPath), zap.Bool("analyze", *analyze))
	report, err := compactDB(ctx, st, *analyze)
	if err != nil {
		return err
	}
	logger.Info("compaction finished",
		zap.Int64("size_before", report.SizeBefore),
		zap.Int64("size_after", report.SizeAfter),
	)
	printCompactReport(os.Stdout, report)
	return nil
}

func compactDB(ctx context.Context, st *store.Store, analyze bool) (compactReport, error) {
	db := st.DB()
	report := compactReport{Rows: make(map[string]int64, len(tables))}

	var err error
	if report.SizeBefore, err = dbSize(ctx, db); err != nil {
		return report, err
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return report, fmt.Errorf("VACUUM failed: %w", err)
	}
	if report.SizeAfter, err = dbSize(ctx, db); err != nil {
		return report, err
	}
	if analyze {
		if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
			return report, fmt.Errorf("ANALYZE failed: %w", err)
		}
	}

	for _, table := range tables {
		var n int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return report, fmt.Errorf("failed to count %s: %w", table, err)
		}
		report.Rows[table] = n
	}
	return report, nil
}

// dbSize returns page_count * page_size.
func dbSize(ctx context.Context, db *sql.DB) (int64, error) {
	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to read page size: %w", err)
	}
	return pages * pageSize, nil
}

func printCompactReport(w io.Writer, r compactReport) {
	const mib = 1 << 20
	fmt.Fprintf(w, "Size before:  %.2f MiB\n", float64(r.SizeBefore)/mib)
	fmt.Fprintf(w, "Size after:   %.2f MiB\n", float64(r.SizeAfter)/mib)
	fmt.Fprintf(w, "Reclaimed:    %.2f MiB\n\n", float64(r.Reclaimed())/mib)
	for _, table := range tables {
		fmt.Fprintf(w, "  %-16s %d rows\n", table, r.Rows[table])
	}
}
