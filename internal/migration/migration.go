// Package migration copies every ticket from one store backend into another.
package migration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-manager/internal/domain"
	"github.com/spec-kit/ticket-manager/internal/store"
)

// Options tunes a migration run.
type Options struct {
	// KeepSource leaves the source store open after a successful run.
	KeepSource bool
	// LogEvery logs progress after this many tickets. Zero disables it.
	LogEvery int
	Logger   *zap.Logger
}

// Report summarises a successful migration.
type Report struct {
	From     store.Type
	To       store.Type
	Migrated int
	Duration time.Duration
}

// Error reports the ticket that stopped a migration.
type Error struct {
	TicketID int64
	Err      error
}

func (e *Error) Error() string {
	if e.TicketID == 0 {
		return fmt.Sprintf("migration failed: %v", e.Err)
	}
	return fmt.Sprintf("migration failed at ticket %d: %v", e.TicketID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Migrate imports every ticket of src into dst, preserving ids and action
// history. Neither store is closed on failure. On success dst is flushed
// and src is closed unless opts.KeepSource is set.
func Migrate(ctx context.Context, src, dst store.Store, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	report := Report{From: src.Type(), To: dst.Type()}
	if report.From == report.To {
		return report, store.ErrSameBackend
	}
	logger = logger.With(zap.String("from", string(report.From)), zap.String("to", string(report.To)))

	start := time.Now()
	logger.Info("migration started")

	var current int64
	err := src.Each(ctx, func(t domain.Ticket) error {
		current = t.ID
		if err := dst.Import(ctx, t); err != nil {
			return err
		}
		report.Migrated++
		if opts.LogEvery > 0 && report.Migrated%opts.LogEvery == 0 {
			logger.Info("migration progress", zap.Int("migrated", report.Migrated), zap.Int64("last_id", t.ID))
		}
		return nil
	})
	if err != nil {
		logger.Error("migration aborted", zap.Int64("ticket_id", current), zap.Int("migrated", report.Migrated), zap.Error(err))
		return report, &Error{TicketID: current, Err: err}
	}

	if f, ok := dst.(store.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return report, &Error{Err: fmt.Errorf("flush destination: %w", err)}
		}
	}
	report.Duration = time.Since(start)

	if !opts.KeepSource {
		if err := src.Close(ctx); err != nil {
			logger.Warn("close migration source", zap.Error(err))
		}
	}
	logger.Info("migration finished", zap.Int("migrated", report.Migrated), zap.Duration("duration", report.Duration))
	return report, nil
}
