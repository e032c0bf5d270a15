package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"wwwallet/internal/walletstate"
)

func readContainer(path string) (walletstate.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return walletstate.Container{}, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := walletstate.Unmarshal(data)
	if err != nil {
		return walletstate.Container{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func writeContainer(path string, c walletstate.Container) error {
	data, err := walletstate.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

type inspectResult struct {
	State               walletstate.WalletState `json:"state"`
	TailEvents          int                     `json:"tailEvents"`
	LastFoldedEventHash string                  `json:"lastFoldedEventHash"`
	Head                string                  `json:"head"`
}

// NewInspectCommand prints the state a container folds to.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <container.json>",
		Short: "Print the wallet state of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			c, err := readContainer(args[0])
			if err != nil {
				return out.Fail(err)
			}
			engine := newEngine(rootOpts, cmd)
			res := inspectResult{
				State:               engine.CalculateState(cmd.Context(), c),
				TailEvents:          len(c.TailEvents),
				LastFoldedEventHash: c.LastFoldedEventHash,
				Head:                c.Head(),
			}
			return out.Result(res, func(w io.Writer) {
				fmt.Fprintf(w, "credentials: %d\n", len(res.State.Credentials))
				for _, cred := range res.State.Credentials {
					fmt.Fprintf(w, "  %s %s batch=%s instance=%d\n", cred.CredentialID, cred.Format, cred.BatchID, cred.InstanceID)
				}
				fmt.Fprintf(w, "settings: %d\n", len(res.State.Settings))
				fmt.Fprintf(w, "issuance sessions: %d\n", len(res.State.IssuanceSessions))
				fmt.Fprintf(w, "tail events: %d\n", res.TailEvents)
				fmt.Fprintf(w, "head: %s\n", res.Head)
			})
		},
	}
}

// NewVerifyCommand checks a container's hash chain.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <container.json>",
		Short: "Verify the event chain of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			c, err := readContainer(args[0])
			if err != nil {
				return out.Fail(err)
			}
			if err := newEngine(rootOpts, cmd).VerifyHistory(cmd.Context(), c); err != nil {
				return out.Fail(err)
			}
			return out.Result(map[string]int{"events": len(c.TailEvents)}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ history verified (%d events)\n", len(c.TailEvents))
			})
		},
	}
}

// NewFoldCommand compacts old events into the base state.
func NewFoldCommand(rootOpts *RootOptions) *cobra.Command {
	var keep int
	var output string
	cmd := &cobra.Command{
		Use:   "fold <container.json>",
		Short: "Fold all but the newest events into the base state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			c, err := readContainer(args[0])
			if err != nil {
				return out.Fail(err)
			}
			folded, err := newEngine(rootOpts, cmd).FoldOldEventsIntoBaseState(cmd.Context(), c, keep)
			if err != nil {
				return out.Fail(err)
			}
			if output == "" {
				output = args[0]
			}
			if err := writeContainer(output, folded); err != nil {
				return out.Fail(err)
			}
			n := len(c.TailEvents) - len(folded.TailEvents)
			return out.Result(map[string]int{"folded": n, "kept": len(folded.TailEvents)}, func(w io.Writer) {
				fmt.Fprintf(w, "folded %d events, kept %d\n", n, len(folded.TailEvents))
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "number of newest events to keep")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to the input)")
	return cmd
}

// NewMergeCommand merges two replicas of the same wallet.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "merge <a.json> <b.json>",
		Short: "Merge two containers of the same wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			a, err := readContainer(args[0])
			if err != nil {
				return out.Fail(err)
			}
			b, err := readContainer(args[1])
			if err != nil {
				return out.Fail(err)
			}
			engine := newEngine(rootOpts, cmd)
			a, b, err = engine.AlignAnchors(cmd.Context(), a, b)
			if err != nil {
				return out.Fail(err)
			}
			res, err := engine.Merge(cmd.Context(), a, b)
			if err != nil {
				return out.Fail(err)
			}
			if err := writeContainer(output, res.Container); err != nil {
				return out.Fail(err)
			}
			summary := map[string]any{
				"outcome": res.Outcome,
				"common":  res.CommonPrefix,
				"fromA":   res.FromA,
				"fromB":   res.FromB,
				"unknown": len(res.Unknown),
			}
			return out.Result(summary, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d shared, %d from %s, %d from %s\n",
					res.Outcome, res.CommonPrefix, res.FromA, args[0], res.FromB, args[1])
				if len(res.Unknown) > 0 {
					fmt.Fprintf(w, "%d events of unknown kinds kept in the tail\n", len(res.Unknown))
				}
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "merged.json", "output file")
	return cmd
}
