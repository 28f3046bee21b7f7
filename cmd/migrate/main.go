// Command migrate copies every ticket from one storage backend into
// another while the API is stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/config"
	"github.com/spec-kit/ticket-manager/internal/migration"
	"github.com/spec-kit/ticket-manager/internal/observability"
	"github.com/spec-kit/ticket-manager/internal/store"
	"github.com/spec-kit/ticket-manager/internal/store/factory"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var from, to, configFile string
	var keepSource bool
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.StringVar(&from, "from", "", "source backend (default: STORE_TYPE)")
	flags.StringVar(&to, "to", "", "destination backend")
	flags.StringVar(&configFile, "config", "", "YAML config file applied over the environment")
	flags.BoolVar(&keepSource, "keep-source", false, "leave the source store open and untouched")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			return err
		}
	}
	if from == "" {
		from = cfg.Store.Type
	}
	src, err := store.ParseType(from)
	if err != nil {
		return err
	}
	dst, err := store.ParseType(to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := factory.New(cfg, logger, nil)
	source, err := stores.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	dest, err := stores.Open(ctx, dst)
	if err != nil {
		_ = source.Close(ctx)
		return fmt.Errorf("open %s: %w", dst, err)
	}
	defer dest.Close(context.Background())

	report, err := migration.Migrate(ctx, source, dest, migration.Options{
		KeepSource: keepSource,
		LogEvery:   cfg.Store.MigrationLogEvery,
		Logger:     logger,
	})
	if err != nil || keepSource {
		if cerr := source.Close(context.Background()); cerr != nil {
			logger.Warn("close source", zap.Error(cerr))
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("migrated %d tickets from %s to %s in %s\n", report.Migrated, report.From, report.To, report.Duration)
	return nil
}
