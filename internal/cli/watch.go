package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wwwallet/internal/notify"
	"wwwallet/internal/platform/config"
)

// NewWatchCommand follows change notifications for the configured wallet and
// synchronizes the local replica whenever another device wrote.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var syncOnChange bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow private data changes of the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			cfg, err := config.ClientFromEnv()
			if err != nil {
				return out.Fail(err)
			}
			if !cfg.Kafka.Enabled() {
				return out.Fail(fmt.Errorf("KAFKA_BROKERS is required"))
			}
			log := commandLogger(rootOpts, cmd, cfg.LogLevel)
			ctx := cmd.Context()

			sub, err := notify.NewKafkaSubscriber(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group+"-"+cfg.DeviceID, notify.WithLogger(log))
			if err != nil {
				return out.Fail(err)
			}
			defer sub.Close()

			var syncOnce func(context.Context) error
			if syncOnChange {
				svc, closeReplica, err := openReplica(ctx, cfg, log, rootOpts.metrics)
				if err != nil {
					return out.Fail(err)
				}
				defer closeReplica()
				syncOnce = func(ctx context.Context) error {
					res, err := svc.Sync(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  synced: %s, pulled %d\n", res.Outcome, res.Pulled)
					return nil
				}
			}

			return sub.Run(ctx, func(ctx context.Context, c notify.Change) error {
				if c.WalletID != cfg.WalletID {
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d by %s (%s) at %s\n",
					c.Version, c.DeviceID, c.Agent, c.UpdatedAt.Format(time.RFC3339))
				if syncOnce == nil || c.DeviceID == cfg.DeviceID {
					return nil
				}
				if err := syncOnce(ctx); err != nil {
					log.WarnContext(ctx, "sync after change failed", "error", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&syncOnChange, "sync", false, "sync the local replica when another device writes")
	return cmd
}
