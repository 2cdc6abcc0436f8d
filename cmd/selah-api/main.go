package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bereanworks/selah/backend/internal/audit"
	"github.com/bereanworks/selah/backend/internal/auth"
	"github.com/bereanworks/selah/backend/internal/config"
	"github.com/bereanworks/selah/backend/internal/database"
	"github.com/bereanworks/selah/backend/internal/logging"
	"github.com/bereanworks/selah/backend/internal/meditation"
	"github.com/bereanworks/selah/backend/internal/server"
	"github.com/bereanworks/selah/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "selah-api",
		Short: "Selah meditation sync backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Run the legacy/canonical consistency checks once and print the report",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context())
		},
	}
	rootCmd.AddCommand(auditCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("api.token_ttl_minutes"), "API token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "API signing secret (overrides env)")
	cmd.PersistentFlags().Int("audit-sample-size", defaults.GetInt("audit.counter_sample_size"), "Bounded sample size for the counter agreement check")
	cmd.PersistentFlags().Int("audit-mismatch-limit", defaults.GetInt("audit.mismatch_limit"), "Number of mismatching rows captured verbatim per check")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "api.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "api.signing_secret", "signing-secret")
	bindFlag(cmd, "audit.counter_sample_size", "audit-sample-size")
	bindFlag(cmd, "audit.mismatch_limit", "audit-mismatch-limit")
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

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.APISigningSecret),
		Issuer:        "selah-main",
		Audience:      "selah-sync",
		TokenTTL:      appConfig.TokenTTL,
	})

	profileService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	propagator, err := meditation.NewPropagator(meditation.PropagatorConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: meditation.NewUUIDProvider(),
		Authors:    profileService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	meditationService, err := meditation.NewService(meditation.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: meditation.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	feed, err := meditation.NewFeed(meditation.FeedConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	auditor, err := audit.NewAuditor(audit.AuditorConfig{
		Database:           db,
		Logger:             logger,
		FieldMismatchLimit: appConfig.AuditMismatchLimit,
		CounterSampleSize:  appConfig.AuditSampleSize,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Propagator:   propagator,
		Service:      meditationService,
		Feed:         feed,
		Auditor:      auditor,
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

func runAudit(ctx context.Context) error {
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

	auditor, err := audit.NewAuditor(audit.AuditorConfig{
		Database:           db,
		Logger:             logger,
		FieldMismatchLimit: appConfig.AuditMismatchLimit,
		CounterSampleSize:  appConfig.AuditSampleSize,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := auditor.Run(signalCtx)
	if err != nil {
		return err
	}

	for _, result := range report.Results {
		fmt.Printf("[%s] %s/%s: %s\n", result.Status, result.Category, result.CheckName, result.Detail)
	}
	fmt.Println(report.SummaryLine())

	if report.HasErrors() {
		os.Exit(1)
	}
	return nil
}
