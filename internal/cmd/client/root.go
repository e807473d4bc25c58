// Package client contains the Cobra commands of delayctl, a thin client of the
// delayed queue HTTP API.
package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag)
type BaseURLFunc func() string

// NewRoot constructs the delayctl root command and registers its subcommands
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "delayctl",
		Short:        "Delayed queue client",
		SilenceUsage: true,
	}
	root.AddCommand(
		newEnqueueCommand(baseURL),
		newGetCommand(baseURL),
		newRedeliverCommand(baseURL),
		newStatsCommand(baseURL),
		newHealthCommand(baseURL),
	)
	return root
}
