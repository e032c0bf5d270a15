package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"wwwallet/internal/walletstate"
)

// newEngine builds an engine that reports to the command's registry.
func newEngine(opts *RootOptions, cmd *cobra.Command) *walletstate.Engine {
	return walletstate.New(
		walletstate.WithLogger(commandLogger(opts, cmd, "warn")),
		walletstate.WithMetrics(opts.metrics),
	)
}

// dumpMetrics writes the command's engine metrics to opts.MetricsOut.
func dumpMetrics(opts *RootOptions, cmd *cobra.Command) error {
	if opts.MetricsOut == "" || opts.registry == nil {
		return nil
	}
	var w io.Writer = cmd.ErrOrStderr()
	if opts.MetricsOut != "-" {
		f, err := os.Create(opts.MetricsOut)
		if err != nil {
			return fmt.Errorf("create metrics file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeMetrics(opts, w)
}

func writeMetrics(opts *RootOptions, w io.Writer) error {
	families, err := opts.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
