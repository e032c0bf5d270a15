package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"wwwallet/internal/platform/config"
	"wwwallet/internal/privatedata/client"
	"wwwallet/internal/wallet/migration"
	"wwwallet/internal/wallet/service"
)

type syncOutput struct {
	service.SyncResult
	MigratedCredentials int  `json:"migratedCredentials"`
	MigratedSettings    bool `json:"migratedSettings"`
	Credentials         int  `json:"credentials"`
}

// NewSyncCommand loads the configured replica, optionally migrates legacy
// backend data into it, and synchronizes it with the remote store.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local replica with the remote store",
		Long: `Synchronize the local replica with the remote store.

The replica is configured from the environment: WALLET_ID, WALLET_MAIN_KEY,
WALLET_LOCAL_DB, WALLET_REMOTE_URL and WALLET_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			cfg, err := config.ClientFromEnv()
			if err != nil {
				return out.Fail(err)
			}
			log := commandLogger(rootOpts, cmd, cfg.LogLevel)
			ctx := cmd.Context()

			svc, closeReplica, err := openReplica(ctx, cfg, log, rootOpts.metrics)
			if err != nil {
				return out.Fail(err)
			}
			defer closeReplica()

			var res syncOutput
			if migrate {
				if cfg.LegacyURL == "" {
					return out.Fail(fmt.Errorf("WALLET_LEGACY_URL is required with --migrate"))
				}
				legacy := migration.NewHTTPLegacyBackend(cfg.LegacyURL, client.StaticToken(cfg.Token))
				m := migration.New(svc, legacy, migration.WithLogger(log))
				if res.MigratedCredentials, err = m.MigrateCredentials(ctx); err != nil {
					return out.Fail(err)
				}
				if res.MigratedSettings, err = m.MigrateSettings(ctx); err != nil {
					return out.Fail(err)
				}
			}

			if res.SyncResult, err = svc.Sync(ctx); err != nil {
				return out.Fail(err)
			}
			res.Credentials = len(svc.State().Credentials)
			return out.Result(res, func(w io.Writer) {
				if migrate {
					fmt.Fprintf(w, "migrated %d credentials from the legacy backend\n", res.MigratedCredentials)
				}
				fmt.Fprintf(w, "%s: pushed %d, pulled %d, folded %d\n", res.Outcome, res.Pushed, res.Pulled, res.Folded)
				fmt.Fprintf(w, "credentials: %d\n", res.Credentials)
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "migrate legacy backend data before syncing")
	return cmd
}

// NewSetCommand alters settings of the configured replica.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change wallet settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			settings, err := parseSettings(args)
			if err != nil {
				return out.Fail(err)
			}
			cfg, err := config.ClientFromEnv()
			if err != nil {
				return out.Fail(err)
			}
			svc, closeReplica, err := openReplica(cmd.Context(), cfg, commandLogger(rootOpts, cmd, cfg.LogLevel), rootOpts.metrics)
			if err != nil {
				return out.Fail(err)
			}
			defer closeReplica()

			state, err := svc.AlterSettings(cmd.Context(), settings)
			if err != nil {
				return out.Fail(err)
			}
			return out.Result(state.Settings, func(w io.Writer) {
				for k, v := range settings {
					fmt.Fprintf(w, "%s=%s\n", k, v)
				}
			})
		},
	}
}

func parseSettings(args []string) (map[string]string, error) {
	settings := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid setting %q: want key=value", arg)
		}
		settings[k] = v
	}
	return settings, nil
}
