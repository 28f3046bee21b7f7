package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-manager/internal/api/http"
	"github.com/spec-kit/ticket-manager/internal/api/http/handlers"
	"github.com/spec-kit/ticket-manager/internal/auth"
	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/events"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/service"
	"github.com/spec-kit/ticket-manager/internal/store/factory"
	"github.com/spec-kit/ticket-manager/internal/worker"
)

func main() {
	var configFile, storeType, issueToken string
	var scopes []string
	flags := pflag.NewFlagSet("ticket-manager", pflag.ExitOnError)
	flags.StringVar(&configFile, "config", "", "YAML config file applied over the environment")
	flags.StringVar(&storeType, "store", "", "storage backend, overrides STORE_TYPE")
	flags.StringVar(&issueToken, "issue-token", "", "print a service token for this name and exit")
	flags.StringSliceVar(&scopes, "scopes", nil, "scopes granted by --issue-token")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if storeType != "" {
		cfg.Store.Type = storeType
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	if issueToken != "" {
		token, expires, err := tokens.GenerateToken(issueToken, scopes)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Printf("%s\n# expires %s\n", token, expires.Format(time.RFC3339))
		return
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	stores := factory.New(cfg, logger, metrics)
	active, err := stores.Open(ctx, stores.Configured())
	if err != nil {
		logger.Fatal("failed to open ticket store", zap.String("store", cfg.Store.Type), zap.Error(err))
	}
	logger.Info("ticket store ready", zap.String("store", cfg.Store.Type))

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartEventLogger(dispatcher, logger.Named("events"))

	tickets := service.NewTicketService(service.TicketDependencies{
		Store:             active,
		Opener:            stores,
		Dispatcher:        dispatcher,
		Metrics:           metrics,
		Logger:            logger,
		MigrationLogEvery: cfg.Store.MigrationLogEvery,
	})
	if !tokens.Enabled() {
		logger.Warn("AUTH_JWT_SECRET not set, API is unauthenticated")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, tickets),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Queue:          handlers.NewQueueHandler(tickets),
		Admin:          handlers.NewAdminHandler(tickets, metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := tickets.Close(closeCtx); err != nil {
		logger.Error("close ticket store", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
