package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yaroslav/stackform/sdk"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "List, check, run and revert upgrades of clusters and providers",
}

var upgradeListCmd = &cobra.Command{
	Use:   "list KIND/ID",
	Short: "List upgrades offered to an object",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpgradeList,
}

var upgradeCheckCmd = &cobra.Command{
	Use:   "check KIND/ID UPGRADE_ID",
	Short: "Run the upgrade pre-checks without changing anything",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpgradeCheck,
}

var upgradeRunCmd = &cobra.Command{
	Use:   "run KIND/ID UPGRADE_ID",
	Short: "Run an upgrade",
	Long: `Run an upgrade.

Upgrades without an action switch prototypes immediately. Upgrades with an
action hand a task to the job runner and print its id.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpgradeRun,
}

var upgradeRevertCmd = &cobra.Command{
	Use:   "revert KIND/ID",
	Short: "Restore an object to its state before the last upgrade",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpgradeRevert,
}

var upgradeConfig string

func init() {
	upgradeRunCmd.Flags().StringVar(&upgradeConfig, "config", "", "Action configuration as a JSON object")

	upgradeCmd.AddCommand(upgradeListCmd, upgradeCheckCmd, upgradeRunCmd, upgradeRevertCmd)
	rootCmd.AddCommand(upgradeCmd)
}

func runUpgradeList(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	upgrades, err := client.ListUpgrades(cmd.Context(), ref)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), upgrades, func(w io.Writer) {
		rows := make([][]string, 0, len(upgrades))
		for _, up := range upgrades {
			target := "-"
			if up.Bundle != nil {
				target = up.Bundle.Name + " " + up.Bundle.Version
			}
			rows = append(rows, []string{up.ID, up.Name, target, mark(up.Upgradable), up.Reason})
		}
		printTable(w, []string{"ID", "NAME", "TARGET", "UPGRADABLE", "REASON"}, rows)
	})
}

func runUpgradeCheck(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	res, err := client.CheckUpgrade(cmd.Context(), ref, args[1])
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), res, func(w io.Writer) {
		if res.OK {
			fmt.Fprintf(w, "%s upgrade %s can run on %s\n", mark(true), args[1], ref)
			return
		}
		fmt.Fprintf(w, "%s upgrade %s rejected: %s\n", mark(false), args[1], res.Reason)
	})
}

func runUpgradeRun(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	var opts *sdk.UpgradeOptions
	if upgradeConfig != "" {
		opts = &sdk.UpgradeOptions{}
		if err := json.Unmarshal([]byte(upgradeConfig), &opts.Config); err != nil {
			return fmt.Errorf("invalid --config: %w", err)
		}
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	res, err := client.Upgrade(cmd.Context(), ref, args[1], opts)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), res, func(w io.Writer) {
		printUpgradeResult(w, res)
	})
}

func runUpgradeRevert(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	res, err := client.Revert(cmd.Context(), ref)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), res, func(w io.Writer) {
		printUpgradeResult(w, res)
	})
}

func printUpgradeResult(w io.Writer, res *sdk.UpgradeResult) {
	fmt.Fprintf(w, "%s %s: phase %s\n", mark(res.Phase != "failed"), res.Object, res.Phase)
	if res.TaskID != "" {
		fmt.Fprintf(w, "  task %s handed to the job runner\n", res.TaskID)
	}
	if res.Warning != "" {
		fmt.Fprintf(w, "  %s\n", warnStyle.Render("warning: "+res.Warning))
	}
	if res.Upgradable {
		fmt.Fprintln(w, "  further upgrades are available")
	}
}
