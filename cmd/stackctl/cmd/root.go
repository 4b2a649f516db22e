package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/sdk"
)

var (
	// Version information (set at build time via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	serverURLs []string
	output     string
	timeout    time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "stackctl - stackform topology and upgrade client",
	Long: `stackctl talks to a stackform server.

It can:
  - Load bundles and inspect their prototypes and upgrades
  - Show which objects an event on a host or service affects
  - Check, run and revert cluster and provider upgrades
  - Report the outcome of action tasks on behalf of a job runner`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("STACKFORM_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringSliceVarP(&serverURLs, "server", "s", strings.Split(defaultURL, ","),
		"Server URLs, tried in order")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
}

// newClient builds an SDK client from the global flags.
func newClient() (*sdk.Client, error) {
	return sdk.NewClient(sdk.ClientConfig{
		BaseURLs:  serverURLs,
		UserAgent: "stackctl/" + Version,
		Timeout:   timeout,
	})
}

// parseRef parses an object reference of the form kind/id.
func parseRef(s string) (models.Ref, error) {
	kind, id, ok := strings.Cut(s, "/")
	ref := models.Ref{Kind: models.Kind(kind), ID: id}
	if !ok || id == "" || !ref.Kind.Valid() {
		return models.Ref{}, fmt.Errorf("invalid object %q, want kind/id (e.g. cluster/1f0c...)", s)
	}
	return ref, nil
}

// render writes v as JSON or YAML, or calls table for the default format.
func render(w io.Writer, v any, table func(io.Writer)) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so YAML keys follow the API field names.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	case "table", "":
		table(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
