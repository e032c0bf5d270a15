package cli

import (
	"context"
	"fmt"
	"log/slog"

	"wwwallet/internal/keystore"
	"wwwallet/internal/platform/config"
	"wwwallet/internal/privatedata/client"
	"wwwallet/internal/privatedata/store"
	"wwwallet/internal/wallet/service"
	"wwwallet/internal/walletstate/metrics"
)

// openReplica opens the device-local database, connects the remote store
// when one is configured and loads the wallet. Engine metrics go to m.
func openReplica(ctx context.Context, cfg config.Client, log *slog.Logger, m *metrics.Metrics) (*service.Service, func(), error) {
	sealer, err := keystore.NewSealer(cfg.MainKey, cfg.WalletID)
	if err != nil {
		return nil, nil, err
	}
	ks, err := keystore.New(sealer, keystore.WithLogger(log), keystore.WithMetrics(m))
	if err != nil {
		return nil, nil, err
	}
	local, err := store.OpenSQLite(cfg.LocalDBPath)
	if err != nil {
		return nil, nil, err
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithKeepEvents(cfg.KeepEvents),
		service.WithMaxAttempts(cfg.MaxSyncAttempts),
	}
	if cfg.RemoteURL != "" {
		opts = append(opts, service.WithRemote(client.New(cfg.RemoteURL, client.StaticToken(cfg.Token))))
	}

	svc, err := service.New(cfg.WalletID, ks, local, opts...)
	if err != nil {
		local.Close()
		return nil, nil, err
	}
	if err := svc.Load(ctx); err != nil {
		local.Close()
		return nil, nil, fmt.Errorf("load wallet: %w", err)
	}
	return svc, func() { local.Close() }, nil
}
