package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teamsync/backend/internal/auth"
	"github.com/teamsync/backend/internal/chat"
	"github.com/teamsync/backend/internal/config"
	"github.com/teamsync/backend/internal/database"
	"github.com/teamsync/backend/internal/documents"
	"github.com/teamsync/backend/internal/files"
	"github.com/teamsync/backend/internal/gateway"
	"github.com/teamsync/backend/internal/ids"
	"github.com/teamsync/backend/internal/logging"
	"github.com/teamsync/backend/internal/metrics"
	"github.com/teamsync/backend/internal/notifications"
	"github.com/teamsync/backend/internal/presence"
	"github.com/teamsync/backend/internal/realtime"
	"github.com/teamsync/backend/internal/server"
	"github.com/teamsync/backend/internal/tasks"
	"github.com/teamsync/backend/internal/users"
	"github.com/teamsync/backend/internal/workspaces"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "teamsync-api",
		Short: "TeamSync collaboration backend",
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
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "MySQL DSN")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("presence-backend", defaults.GetString("presence.backend"), "Presence registry backend (memory, redis)")
	cmd.PersistentFlags().String("presence-redis-url", defaults.GetString("presence.redis_url"), "Redis URL for the presence registry")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "presence.backend", "presence-backend")
	bindFlag(cmd, "presence.redis_url", "presence-redis-url")
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry, closeRegistry, err := openPresence(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promRegistry)

	engine, err := realtime.NewEngine(realtime.EngineConfig{
		Registry:   registry,
		SendBuffer: appConfig.RealtimeSendBuffer,
		Metrics:    collector,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	workspaceService, err := workspaces.NewService(workspaces.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  idProvider,
		Connections: engine,
		Metrics:     collector,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	triggers := notifications.NewTriggers(notificationService, workspaceService, logger)
	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  idProvider,
		Broadcaster: engine,
		Notifier:    triggers,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  idProvider,
		Broadcaster: engine,
		Profiles:    userService,
		Notifier:    triggers,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	fileService, err := files.NewService(files.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	relayConfig := documents.RelayConfig{
		Store:   documentService,
		Rooms:   engine,
		Metrics: collector,
		Logger:  logger,
	}
	gatewayConfig := gateway.Config{
		Engine:          engine,
		Messages:        chatService,
		IDProvider:      idProvider,
		InboundRate:     appConfig.RealtimeInboundRate,
		InboundBurst:    appConfig.RealtimeInboundBurst,
		PresenceRefresh: appConfig.PresenceTTL / 2,
		AllowedOrigins:  appConfig.RealtimeAllowedOrigins,
		Metrics:         collector,
		Logger:          logger,
	}
	if appConfig.RealtimeEnforceRoomAccess {
		relayConfig.Access = workspaceService
		gatewayConfig.Access = workspaceService
	}
	relay, err := documents.NewRelay(relayConfig)
	if err != nil {
		return err
	}
	gatewayConfig.Relay = relay
	socketGateway, err := gateway.New(gatewayConfig)
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}
	ticketIssuer, err := auth.NewTicketIssuer(auth.TicketIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		TicketTTL:     appConfig.RealtimeTicketTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Users:          userService,
		Tickets:        ticketIssuer,
		Gateway:        socketGateway,
		Workspaces:     workspaceService,
		Tasks:          taskService,
		Chat:           chatService,
		Documents:      documentService,
		Files:          fileService,
		Notifications:  notificationService,
		Triggers:       triggers,
		Metrics:        metrics.Handler(promRegistry),
		AllowedOrigins: appConfig.RealtimeAllowedOrigins,
		EnforceAccess:  appConfig.RealtimeEnforceRoomAccess,
		Logger:         logger,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("presence_backend", appConfig.PresenceBackend))
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

func openPresence(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (presence.Registry, func(), error) {
	if appConfig.PresenceBackend != config.PresenceBackendRedis {
		return presence.NewMemoryRegistry(), func() {}, nil
	}
	client, err := presence.DialRedis(ctx, appConfig.PresenceRedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("presence registry connected to redis")
	registry := presence.NewRedisRegistry(client, presence.RedisConfig{TTL: appConfig.PresenceTTL})
	return registry, func() { _ = client.Close() }, nil
}
