package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs retention sweeps on a cron schedule. Sweeps also run on
// demand via Manager.Sweep; the sweeper only provides the timer.
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	logger  zerolog.Logger
}

// NewSweeper schedules periodic retention sweeps. The schedule uses
// standard cron syntax, e.g. "0 3 * * *" for daily at 03:00.
func NewSweeper(manager *Manager, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:    cron.New(),
		manager: manager,
		logger:  logger.With().Str("component", "sweeper").Logger(),
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.manager.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled sweep failed")
		return
	}
	s.logger.Debug().
		Int("deleted", result.Deleted).
		Int64("bytes_freed", result.BytesFreed).
		Msg("Scheduled sweep finished")
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Retention sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Retention sweeper stopped")
}
