package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yaroslav/stackform/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect tasks and report their outcome",
}

var taskGetCmd = &cobra.Command{
	Use:   "get TASK_ID",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		task, err := client.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), task, func(w io.Writer) {
			printTasks(w, []*models.Task{task})
		})
	},
}

var taskFinishCmd = &cobra.Command{
	Use:   "finish TASK_ID success|failed",
	Short: "Report the outcome of a task",
	Long: `Report the outcome of a task on behalf of the job runner.

A successful upgrade task applies the on-success state of the upgrade.
A failed one leaves the object on whatever prototypes it reached.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(models.TaskSuccess), string(models.TaskFailed)},
	RunE: func(cmd *cobra.Command, args []string) error {
		status := models.TaskStatus(args[1])
		if !status.Finished() {
			return fmt.Errorf("status must be %s or %s", models.TaskSuccess, models.TaskFailed)
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		task, err := client.FinishTask(cmd.Context(), args[0], status)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), task, func(w io.Writer) {
			printTasks(w, []*models.Task{task})
		})
	},
}

var taskSwitchCmd = &cobra.Command{
	Use:   "apply-switch TASK_ID",
	Short: "Switch prototypes from inside a running upgrade task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		res, err := client.ApplySwitch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) {
			printUpgradeResult(w, res)
		})
	},
}

func init() {
	taskCmd.AddCommand(taskGetCmd, taskFinishCmd, taskSwitchCmd)
	rootCmd.AddCommand(taskCmd)
}

func printTasks(w io.Writer, tasks []*models.Task) {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.ID, t.Action, t.Object.String(), string(t.Status)})
	}
	printTable(w, []string{"ID", "ACTION", "OBJECT", "STATUS"}, rows)
}
