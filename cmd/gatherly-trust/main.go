package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatherly-app/gatherly/backend/internal/auth"
	"github.com/gatherly-app/gatherly/backend/internal/catalog"
	"github.com/gatherly-app/gatherly/backend/internal/config"
	"github.com/gatherly-app/gatherly/backend/internal/database"
	"github.com/gatherly-app/gatherly/backend/internal/events"
	"github.com/gatherly-app/gatherly/backend/internal/logging"
	"github.com/gatherly-app/gatherly/backend/internal/server"
	"github.com/gatherly-app/gatherly/backend/internal/trust"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatherly-trust",
		Short: "Gatherly trust score ledger service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	defaults := viper.GetViper()
	config.ApplyDefaults(defaults)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("catalog-path", defaults.GetString("catalog.path"), "Action catalog overrides file")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Service token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Service token signing secret (overrides env)")
	cmd.PersistentFlags().String("provisioning-key", "", "Collaborator provisioning key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "catalog.path", "catalog-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.provisioning_key", "provisioning-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	overrides, err := catalog.LoadOverrides(appConfig.CatalogPath)
	if err != nil {
		return err
	}
	actionCatalog := catalog.New(overrides)

	trustService, err := trust.NewService(trust.ServiceConfig{
		Database:   db,
		Catalog:    actionCatalog,
		Clock:      time.Now,
		IDProvider: trust.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	recorder, err := events.NewRecorder(trustService, logger)
	if err != nil {
		return err
	}

	tokenManager := auth.NewServiceTokenManager(auth.ServiceTokenConfig{
		SigningSecret:   []byte(appConfig.SigningSecret),
		ProvisioningKey: appConfig.ProvisioningKey,
		Issuer:          appConfig.TokenIssuer,
		Audience:        "gatherly-trust-api",
		TokenTTL:        appConfig.TokenTTL,
	})

	handler, err := server.NewHTTPHandler(server.HandlerConfig{
		TokenManager: tokenManager,
		TrustService: trustService,
		Recorder:     recorder,
		Realtime:     server.NewRealtimeDispatcher(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
