package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/config"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/database"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/drops"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/identity"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/keys"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/logging"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/metrics"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/server"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deaddrop-api",
		Short: "Anonymous single-use dead drop service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			saltOverride(cmd)
			return nil
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
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("trusted-proxies", nil, "Proxy addresses or CIDRs whose forwarding headers are trusted")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("salt", "", "Pseudonym salt (overrides env)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-host", defaults.GetString("database.host"), "Postgres host")
	cmd.PersistentFlags().Int("database-port", defaults.GetInt("database.port"), "Postgres port")
	cmd.PersistentFlags().Int("database-timeout-ms", defaults.GetInt("database.timeout_ms"), "Database connection and operation timeout in milliseconds")
	cmd.PersistentFlags().String("stats-timezone", defaults.GetString("stats.timezone"), "IANA timezone used to bucket daily stats")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.trusted_proxies", "trusted-proxies")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.host", "database-host")
	bindFlag(cmd, "database.port", "database-port")
	bindFlag(cmd, "database.timeout_ms", "database-timeout-ms")
	bindFlag(cmd, "stats.timezone", "stats-timezone")
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

// saltOverride applies --salt only when it was given, so an empty flag never
// masks the environment or config file value.
func saltOverride(cmd *cobra.Command) {
	if flag := cmd.PersistentFlags().Lookup("salt"); flag != nil && flag.Changed {
		viper.Set("identity.salt", flag.Value.String())
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	unregisterMetrics, err := metrics.Register(logger, appConfig.MetricsReportingPeriod)
	if err != nil {
		return err
	}
	defer unregisterMetrics()

	db, err := database.Open(ctx, appConfig.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	hasher, err := identity.NewHasher(appConfig.Salt)
	if err != nil {
		return err
	}

	dropService, err := drops.NewService(drops.ServiceConfig{
		Database:         db,
		Clock:            time.Now,
		KeyIssuer:        keys.NewUUIDIssuer(),
		Logger:           logger,
		OperationTimeout: appConfig.Database.Timeout,
	})
	if err != nil {
		return err
	}

	statsService, err := stats.NewService(stats.ServiceConfig{
		Database:         db,
		Location:         appConfig.StatsLocation,
		Logger:           logger,
		OperationTimeout: appConfig.Database.Timeout,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		DropService:  dropService,
		StatsService: statsService,
		Hasher:       hasher,
		HealthCheck: func(ctx context.Context) error {
			return database.Ping(ctx, db, appConfig.Database.Timeout)
		},
		TrustedProxies:  appConfig.TrustedProxies,
		MaxPayloadBytes: appConfig.MaxPayloadBytes,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
