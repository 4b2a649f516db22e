package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/yaroslav/stackform/internal/service"
	"github.com/yaroslav/stackform/pkg/bundle"
)

// ExecuteLoadBundle loads bundles straight into the database, bypassing the API.
// Arguments ending in .yaml or .yml are packed into an archive first.
func ExecuteLoadBundle(args []string) error {
	fs := flag.NewFlagSet("load-bundle", flag.ExitOnError)
	dbPath := fs.String("db", getEnv("STACKFORM_DB_PATH", "./stackform.db"), "Path to SQLite database")
	verbose := fs.Bool("verbose", false, "Enable verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("load-bundle requires at least one bundle file")
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

	bundles := service.NewBundleService(st, logger)
	for _, path := range fs.Args() {
		data, err := readBundleFile(path)
		if err != nil {
			return err
		}
		b, err := bundles.Load(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		fmt.Printf("✓ Loaded %s %s (%s) as %s\n", b.Name, b.Version, b.Edition, b.ID)
	}
	return nil
}

// readBundleFile returns the archive bytes for path, packing bare definitions.
func readBundleFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = bundle.Pack(data)
		if err != nil {
			return nil, fmt.Errorf("failed to pack %s: %w", path, err)
		}
	}
	return data, nil
}
