package cmd

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/pkg/bundle"
)

// ExecuteVerifyBundles re-validates every stored bundle archive against the
// current definition rules.
func ExecuteVerifyBundles(args []string) error {
	fs := flag.NewFlagSet("verify-bundles", flag.ExitOnError)
	name := fs.String("name", "", "Verify bundles with this name only (default: all bundles)")
	dbPath := fs.String("db", getEnv("STACKFORM_DB_PATH", "./stackform.db"), "Path to SQLite database")
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

	valid, invalid, err := verifyBundles(ctx, st, *name, logger)
	if err != nil {
		return err
	}

	fmt.Printf("\n=====================================\n")
	fmt.Printf("Summary: %d valid, %d invalid\n", valid, invalid)
	if invalid > 0 {
		return fmt.Errorf("found %d invalid bundle(s)", invalid)
	}
	return nil
}

// verifyBundles checks the archive of each stored bundle and reports the
// number of valid and invalid ones.
func verifyBundles(ctx context.Context, st *store.Store, name string, logger *zap.Logger) (int, int, error) {
	bundles, err := st.ListBundles(ctx, name)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list bundles: %w", err)
	}
	if len(bundles) == 0 {
		logger.Info("no bundles found")
		return 0, 0, nil
	}

	var valid, invalid int
	fmt.Printf("\nVerifying %d bundle(s):\n", len(bundles))
	fmt.Println("=====================================")

	for _, b := range bundles {
		fmt.Printf("\nBundle: %s %s (%s, id %s)\n", b.Name, b.Version, b.Edition, b.ID)

		data, err := st.GetBundleArchive(ctx, b.ID)
		if err != nil {
			return valid, invalid, fmt.Errorf("failed to read archive of bundle %s: %w", b.ID, err)
		}
		fmt.Printf("  Size: %d bytes\n", len(data))

		def, err := bundle.Load(data)
		if err != nil {
			fmt.Printf("  ✗ INVALID: %v\n", err)
			invalid++
			continue
		}
		if def.Root.Name != b.Name || def.Root.Version != b.Version {
			fmt.Printf("  ✗ INVALID: archive definition does not match the stored bundle\n")
			invalid++
			continue
		}

		fmt.Printf("  ✓ Valid\n")
		valid++
	}

	logger.Info("bundles verified", zap.Int("valid", valid), zap.Int("invalid", invalid))
	return valid, invalid, nil
}
