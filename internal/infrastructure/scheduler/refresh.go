package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"mcp-bridge/internal/application/port/output"
)

// DefaultSpec re-probes enabled servers every five minutes.
const DefaultSpec = "@every 5m"

// Refresher is the part of the server registry the scheduler drives.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// RefreshScheduler periodically reconnects to every enabled server so that
// the cached tool lists and connection state stay current.
type RefreshScheduler struct {
	cron      *cronv3.Cron
	refresher Refresher
	timeout   time.Duration
	logger    output.LoggerPort

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRefreshScheduler(spec string, refresher Refresher, timeout time.Duration, logger output.LoggerPort) (*RefreshScheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	parser := cronv3.NewParser(cronv3.SecondOptional | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow | cronv3.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}

	s := &RefreshScheduler{
		refresher: refresher,
		timeout:   timeout,
		logger:    logger.WithField("component", "scheduler"),
	}
	s.cron = cronv3.New(
		cronv3.WithParser(parser),
		cronv3.WithChain(cronv3.SkipIfStillRunning(cronv3.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}
	return s, nil
}

// Start runs the schedule until ctx is done or Stop is called.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.cron.Start()
	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and waits for a running refresh to finish.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.cron.Stop().Done()
}

func (s *RefreshScheduler) tick() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return
	}
	s.RunOnce(parent)
}

// RunOnce performs a single refresh pass.
func (s *RefreshScheduler) RunOnce(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	if err := s.refresher.RefreshAll(ctx); err != nil {
		s.logger.Warn("Server refresh finished with errors", "error", err, "duration", time.Since(started))
		return
	}
	s.logger.Debug("Server refresh finished", "duration", time.Since(started))
}
