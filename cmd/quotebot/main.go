// Command quotebot runs the renovation quoting assistant: an HTTP service,
// a one-shot chat, and direct access to the calculators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var root = &cobra.Command{
	Use:           "quotebot",
	Short:         "Renovation quoting assistant",
	Example:       "quotebot serve --config quotebot.toml\nquotebot estimate --area 45 --standard kamienica",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	root.PersistentFlags().StringP("config", "c", "", "TOML or YAML configuration file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("provider", "", "model service: openai or anthropic")
	root.PersistentFlags().String("model", "", "model name (empty: provider default)")

	root.AddCommand(serveCmd(), chatCmd(), estimateCmd(), rateCmd(), leadsCmd())
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
