package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBatchSize = 100

// StaleLister finds users whose dialog has been idle since before.
type StaleLister interface {
	ListStaleDialogs(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// Resetter abandons a user's dialog unless it moved at or after idleSince.
type Resetter interface {
	Reset(ctx context.Context, chatID int64, idleSince time.Time) (bool, error)
}

// ResetWorker abandons dialogs that stayed idle longer than the inactivity
// window.
type ResetWorker struct {
	lister   StaleLister
	resetter Resetter
	window   time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewResetWorker(lister StaleLister, resetter Resetter, window, interval time.Duration) *ResetWorker {
	return &ResetWorker{
		lister:   lister,
		resetter: resetter,
		window:   window,
		interval: interval,
		batch:    defaultBatchSize,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *ResetWorker) Run(ctx context.Context) error {
	l := log.With().Str("component", "reset_worker").Logger()
	l.Info().Dur("window", w.window).Dur("interval", w.interval).Msg("Starting reset worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				l.Error().Err(err).Int("reset", n).Msg("Error resetting stale dialogs")
			} else if n > 0 {
				l.Info().Int("reset", n).Msg("Stale dialogs reset")
			}
		case <-ctx.Done():
			l.Info().Msg("Reset worker stopped")
			return nil
		}
	}
}

// Sweep resets one batch of stale dialogs and returns how many it closed.
func (w *ResetWorker) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.window)
	chatIDs, err := w.lister.ListStaleDialogs(ctx, cutoff, w.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale dialogs: %w", err)
	}

	var errs []error
	n := 0
	for _, id := range chatIDs {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.resetter.Reset(ctx, id, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("reset chat %d: %w", id, err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}
