package agewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MonitoringSession describes one bounded monitoring run. It is created
// once per Framework and never modified afterwards.
type MonitoringSession struct {
	ID       string
	Duration time.Duration
	Interval time.Duration
	SinkPath string
}

// NewMonitoringSession validates the timing parameters and assigns an ID.
func NewMonitoringSession(duration, interval time.Duration, sinkPath string) (*MonitoringSession, error) {
	if duration <= 0 {
		return nil, newConfigError("monitoring duration", "must be positive", nil)
	}
	if interval <= 0 {
		return nil, newConfigError("monitoring interval", "must be positive", nil)
	}
	if interval > duration {
		return nil, newConfigError("monitoring interval",
			fmt.Sprintf("%s exceeds duration %s", interval, duration), nil)
	}
	if sinkPath == "" {
		return nil, newConfigError("sink path", "must not be empty", nil)
	}
	return &MonitoringSession{
		ID:       uuid.NewString(),
		Duration: duration,
		Interval: interval,
		SinkPath: sinkPath,
	}, nil
}

// Ticks returns the number of progress ticks: floor(Duration / Interval).
func (s *MonitoringSession) Ticks() int {
	return int(s.Duration / s.Interval)
}

// MonitoringReport summarizes a finished or aborted monitoring run.
type MonitoringReport struct {
	SessionID string
	// StartedAt is when the sampler was launched; zero if it never was.
	StartedAt time.Time
	Ticks     int
	Elapsed   time.Duration
	// Stopped is true once the sampler has been terminated.
	Stopped bool
}

// Supervisor owns the sampler lifecycle for one monitoring session:
// start, bounded wait with progress reporting, forced stop.
type Supervisor struct {
	session  *MonitoringSession
	reporter ProgressReporter
	wait     WaitFunc
	logger   *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithProgressReporter sets where progress ticks go. Default: NopReporter.
func WithProgressReporter(r ProgressReporter) SupervisorOption {
	return func(s *Supervisor) { s.reporter = r }
}

// WithWaitFunc replaces the countdown sleep, mainly for tests.
func WithWaitFunc(w WaitFunc) SupervisorOption {
	return func(s *Supervisor) { s.wait = w }
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a supervisor for session.
func NewSupervisor(session *MonitoringSession, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		session:  session,
		reporter: NopReporter{},
		wait:     SleepContext,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run launches the sampler and blocks for the session duration, reporting
// progress after every elapsed interval. The sampler is stopped exactly
// once on every exit path. When the duration is not a multiple of the
// interval, the remainder is waited after the last tick without a tick of
// its own.
func (s *Supervisor) Run(ctx context.Context, launcher Launcher) (report MonitoringReport, err error) {
	report.SessionID = s.session.ID

	w, err := launcher.Launch(ctx)
	if err != nil {
		return report, newExecutionError("monitoring", fmt.Errorf("start sampler: %w", err))
	}
	report.StartedAt = time.Now()
	s.logger.Info("monitoring started",
		"session", s.session.ID,
		"duration", s.session.Duration,
		"interval", s.session.Interval,
		"sink", s.session.SinkPath)

	// wakes the countdown when the sampler dies on its own
	mctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.Done():
			cancel()
		case <-mctx.Done():
		}
	}()

	defer func() {
		cancel()
		stopErr := w.Stop()
		report.Stopped = true
		s.reporter.Finish()
		if stopErr != nil && (err == nil || errors.Is(err, errSamplerExited)) {
			err = stopErr
		}
		s.logger.Info("monitoring stopped", "session", s.session.ID, "ticks", report.Ticks, "err", err)
	}()

	ticks := s.session.Ticks()
	for k := 1; k <= ticks; k++ {
		if err := s.waitStep(ctx, mctx, s.session.Interval); err != nil {
			return report, err
		}
		report.Ticks = k
		report.Elapsed = time.Duration(k) * s.session.Interval
		p := newProgress(k, ticks, report.Elapsed, s.session.Duration)
		monitoringProgress.Set(p.Fraction)
		s.reporter.Progress(p)
	}

	if rem := s.session.Duration - time.Duration(ticks)*s.session.Interval; rem > 0 {
		if err := s.waitStep(ctx, mctx, rem); err != nil {
			return report, err
		}
		report.Elapsed = s.session.Duration
	}
	return report, nil
}

// errSamplerExited is replaced by the sampler's own error when it has one.
var errSamplerExited = errors.New("sampler exited unexpectedly")

func (s *Supervisor) waitStep(ctx, mctx context.Context, d time.Duration) error {
	if err := s.wait(mctx, d); err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return newExecutionError("monitoring", fmt.Errorf("interrupted: %w", ctx.Err()))
	}
	return newExecutionError("monitoring", errSamplerExited)
}
