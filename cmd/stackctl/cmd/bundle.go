package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/bundle"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Manage bundles",
}

var bundleLoadCmd = &cobra.Command{
	Use:   "load FILE...",
	Short: "Load bundle archives or definition files",
	Long: `Load one or more bundles.

Files ending in .yaml or .yml are packed into an archive before upload;
anything else is sent as a gzip-compressed tar archive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBundleLoad,
}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded bundles",
	Args:  cobra.NoArgs,
	RunE:  runBundleList,
}

var bundleUpgradesCmd = &cobra.Command{
	Use:   "upgrades BUNDLE_ID",
	Short: "List the upgrades a bundle declares",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleUpgrades,
}

var bundleDeleteCmd = &cobra.Command{
	Use:   "delete BUNDLE_ID",
	Short: "Delete a bundle no object uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.DeleteBundle(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Bundle %s deleted\n", args[0])
		return nil
	},
}

var bundleName string

func init() {
	bundleListCmd.Flags().StringVar(&bundleName, "name", "", "Only list bundles with this name")

	bundleCmd.AddCommand(bundleLoadCmd, bundleListCmd, bundleUpgradesCmd, bundleDeleteCmd)
	rootCmd.AddCommand(bundleCmd)
}

// readArchive returns the archive for path, packing bare definitions.
func readArchive(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return bundle.Pack(data)
	}
	return data, nil
}

func runBundleLoad(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	var loaded []*models.Bundle
	for _, path := range args {
		archive, err := readArchive(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		b, err := client.UploadBundle(cmd.Context(), archive)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		loaded = append(loaded, b)
	}
	return render(cmd.OutOrStdout(), loaded, func(w io.Writer) {
		printBundles(w, loaded)
	})
}

func runBundleList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	bundles, err := client.ListBundles(cmd.Context(), bundleName)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), bundles, func(w io.Writer) {
		printBundles(w, bundles)
	})
}

func printBundles(w io.Writer, bundles []*models.Bundle) {
	rows := make([][]string, 0, len(bundles))
	for _, b := range bundles {
		rows = append(rows, []string{b.ID, b.Name, b.Version, b.Edition, b.CreatedAt.Format("2006-01-02 15:04")})
	}
	printTable(w, []string{"ID", "NAME", "VERSION", "EDITION", "CREATED"}, rows)
}

func runBundleUpgrades(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	upgrades, err := client.BundleUpgrades(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), upgrades, func(w io.Writer) {
		rows := make([][]string, 0, len(upgrades))
		for _, up := range upgrades {
			rows = append(rows, []string{up.ID, up.Name, versionRange(up), actionName(up)})
		}
		printTable(w, []string{"ID", "NAME", "FROM", "ACTION"}, rows)
	})
}

// versionRange formats the accepted source versions as an interval.
func versionRange(up *models.Upgrade) string {
	lo, hi := "[", "]"
	if up.MinStrict {
		lo = "("
	}
	if up.MaxStrict {
		hi = ")"
	}
	return lo + up.MinVersion + ", " + up.MaxVersion + hi
}

func actionName(up *models.Upgrade) string {
	if up.Action == nil {
		return "-"
	}
	return up.Action.Name
}
