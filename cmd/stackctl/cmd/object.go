package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yaroslav/stackform/models"
)

var getCmd = &cobra.Command{
	Use:   "get KIND/ID",
	Short: "Show an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		e, err := client.GetObject(cmd.Context(), ref)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), e, func(w io.Writer) {
			printTable(w, []string{"KIND", "ID", "NAME", "STATE", "PROTOTYPE"},
				[][]string{{string(e.Kind), e.ID, e.Name, e.State, e.PrototypeID}})
		})
	},
}

var affectedAll bool

var affectedCmd = &cobra.Command{
	Use:   "affected KIND/ID",
	Short: "Show the objects an event on an object affects",
	Long: `Show the objects whose concerns an event on the given object touches.

By default the set follows the owner hierarchy and host-component mapping.
With --all the full hierarchy of the object is returned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		refs, err := client.Affected(cmd.Context(), ref, affectedAll)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), refs, func(w io.Writer) {
			printRefs(w, refs)
		})
	},
}

var concernsCmd = &cobra.Command{
	Use:   "concerns KIND/ID",
	Short: "Show the concerns affecting an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		cs, err := client.Concerns(cmd.Context(), ref)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), cs, func(w io.Writer) {
			if cs.Locked {
				fmt.Fprintf(w, "%s is %s\n", ref, badStyle.Render("locked"))
			} else {
				fmt.Fprintf(w, "%s is %s\n", ref, okStyle.Render("unlocked"))
			}
			rows := make([][]string, 0, len(cs.Concerns))
			for _, c := range cs.Concerns {
				rows = append(rows, []string{c.ID, string(c.Kind), string(c.Cause), c.Name, c.Owner.String()})
			}
			printTable(w, []string{"ID", "KIND", "CAUSE", "NAME", "OWNER"}, rows)
		})
	},
}

func init() {
	affectedCmd.Flags().BoolVar(&affectedAll, "all", false, "Return the whole hierarchy of the object")

	rootCmd.AddCommand(getCmd, affectedCmd, concernsCmd)
}

func printRefs(w io.Writer, refs []models.Ref) {
	rows := make([][]string, 0, len(refs))
	for _, r := range refs {
		rows = append(rows, []string{string(r.Kind), r.ID})
	}
	printTable(w, []string{"KIND", "ID"}, rows)
}
