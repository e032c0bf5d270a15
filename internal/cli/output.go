package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"wwwallet/internal/platform/logger"
)

// CLIResponse is the JSON envelope every command writes with --format json.
type CLIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OutputFormatter writes command results in the selected format.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// Result writes data as a JSON envelope or through text.
func (f *OutputFormatter) Result(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Fail reports err in the selected format and returns it.
func (f *OutputFormatter) Fail(err error) error {
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: err.Error()})
		return err
	}
	fmt.Fprintf(f.Writer, "✗ %v\n", err)
	return err
}

// commandLogger logs to stderr so JSON output stays clean.
func commandLogger(opts *RootOptions, cmd *cobra.Command, level string) *slog.Logger {
	if opts.Verbose {
		level = "debug"
	}
	return logger.NewWithWriter(cmd.ErrOrStderr(), level)
}
