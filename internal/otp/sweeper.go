package otp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper periodically reclaims expired ledger entries. Correctness never
// depends on it; Verify checks expiry itself.
type Sweeper struct {
	cron   *cron.Cron
	ledger *Ledger
	logger *slog.Logger
}

// NewSweeper registers the sweep job on schedule. It does not start it.
func NewSweeper(ledger *Ledger, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	s := &Sweeper{cron: c, ledger: ledger, logger: logger}
	if _, err := c.AddFunc(schedule, s.Run); err != nil {
		return nil, fmt.Errorf("schedule otp sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Run performs a single sweep.
func (s *Sweeper) Run() {
	if removed := s.ledger.Sweep(); removed > 0 {
		s.logger.Info("expired otps swept", slog.Int("removed", removed))
	}
}

// Start begins running the scheduled sweep in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
