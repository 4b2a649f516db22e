package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stackctl build",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
		return render(cmd.OutOrStdout(), info, func(w io.Writer) {
			fmt.Fprintf(w, "stackctl %s %s\n", info.Version, subtleStyle.Render(fmt.Sprintf("(%s, %s, %s)", info.Commit, info.BuildDate, info.GoVersion)))
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
