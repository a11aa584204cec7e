package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/interledger/ilp-settlement-iroha/internal/config"
	"github.com/interledger/ilp-settlement-iroha/internal/connector"
	"github.com/interledger/ilp-settlement-iroha/internal/engine"
	"github.com/interledger/ilp-settlement-iroha/internal/keys"
	"github.com/interledger/ilp-settlement-iroha/internal/ledger/torii"
	"github.com/interledger/ilp-settlement-iroha/internal/observer"
	"github.com/interledger/ilp-settlement-iroha/internal/server"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb/bbolt"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb/pebble"
	"github.com/interledger/ilp-settlement-iroha/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the settlement engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// serve is the default action
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(serveCmd, args)
	}

	serveCmd.Flags().String("torii-url", "localhost:50051", "Iroha Torii gRPC endpoint, host:port")
	serveCmd.Flags().String("connector-url", "http://localhost:7771", "base URL of the connector's settlement API")
	serveCmd.Flags().String("iroha-account-id", "", "our Iroha account, name@domain")
	serveCmd.Flags().String("keypair-name", "", "path prefix of the ed25519 key files")
	serveCmd.Flags().String("asset-id", "", "settlement asset, code#domain")
	serveCmd.Flags().Int("asset-scale", 2, "scale of the settlement asset")
	serveCmd.Flags().Int("bind-port", 3000, "port the control surface listens on")
	serveCmd.Flags().String("database-path", "./data", "directory for the persistent store")
	serveCmd.Flags().String("database-backend", "pebble", "key-value backend, pebble or bbolt")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags(), confFile)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	keypair, err := keys.Load(cfg.KeypairName)
	if err != nil {
		return fmt.Errorf("could not load keypair %s: %w", cfg.KeypairName, err)
	}

	var manager keyValueDb.Manager
	switch cfg.DatabaseBackend {
	case "bbolt":
		manager = bbolt.NewManager(cfg.DatabasePath)
	default:
		manager = pebble.NewManager(cfg.DatabasePath)
	}
	defer manager.Close()

	st, err := store.New(manager, logger)
	if err != nil {
		return fmt.Errorf("could not open store: %w", err)
	}

	ledgerClient, err := torii.New(torii.Config{
		ToriiURL:   cfg.ToriiURL,
		AccountID:  cfg.IrohaAccountID,
		AssetID:    cfg.AssetID,
		AssetScale: cfg.AssetScale,
		Keypair:    keypair,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not create ledger client: %w", err)
	}
	defer ledgerClient.Close()

	// Startup probe: the configured account must exist on the ledger.
	probeCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	err = ledgerClient.GetAccount(probeCtx, cfg.IrohaAccountID)
	cancel()
	if err != nil {
		return fmt.Errorf("ledger account %s is not reachable: %w", cfg.IrohaAccountID, err)
	}

	connectorClient := connector.New(cfg.ConnectorURL, logger)
	eng := engine.New(st, ledgerClient, cfg.IrohaAccountID, cfg.AssetScale, logger)
	obs := observer.New(st, ledgerClient, connectorClient, cfg.IrohaAccountID, cfg.AssetID, cfg.AssetScale, logger)
	srv := server.New(st, eng, connectorClient, cfg.IrohaAccountID, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting settlement engine",
		zap.String("iroha_account", cfg.IrohaAccountID),
		zap.String("asset", cfg.AssetID),
		zap.Int("asset_scale", cfg.AssetScale),
		zap.Int("bind_port", cfg.BindPort))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx, fmt.Sprintf(":%d", cfg.BindPort))
	})

	err = g.Wait()
	logger.Info("settlement engine stopped")
	return err
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
