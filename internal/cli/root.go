// Package cli implements walletctl, the operator tool for wallet containers
// and replicas.
package cli

import (
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"wwwallet/internal/walletstate/metrics"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	MetricsOut string // "" disables the dump, "-" writes to stderr

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the walletctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "walletctl",
		Short: "Inspect, merge and synchronize wallet containers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.registry = prometheus.NewRegistry()
			opts.metrics = metrics.New(opts.registry)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return dumpMetrics(opts, cmd)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.MetricsOut, "metrics-out", "", "write engine metrics in Prometheus text format to this file (- for stderr)")

	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewFoldCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}
