package updater

import (
	"context"
	"time"

	"github.com/evyataryagoni/geolookup/internal/logger"
)

// Scheduler runs the pipeline periodically inside the server process
// Runs never overlap: the next tick is only consumed after a cycle returns
type Scheduler struct {
	pipeline   *Pipeline
	interval   time.Duration
	runOnStart bool
	logger     *logger.Logger
	done       chan struct{}
}

// NewScheduler creates a scheduler; interval <= 0 disables periodic runs
func NewScheduler(p *Pipeline, interval time.Duration, runOnStart bool, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Scheduler{
		pipeline:   p,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     log.WithComponent("RefreshScheduler"),
		done:       make(chan struct{}),
	}
}

// Start launches the scheduling loop in a background goroutine
// It stops when ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Done is closed once the loop has exited
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	if s.runOnStart {
		s.runCycle(ctx)
	}
	if s.interval <= 0 {
		s.logger.Info().Msg("Periodic refresh disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Time("next", time.Now().Add(s.interval)).
		Msg("Refresh scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report := s.pipeline.Run(ctx)
	for _, res := range report.Failed() {
		s.logger.Warn().Str("database", string(res.Type)).Str("reason", res.Reason).Msg("Type not refreshed this cycle")
	}
}
