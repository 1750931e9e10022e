package agewatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SampleObserver is notified after each sample has been written to the sink.
type SampleObserver interface {
	ObserveSample(s Sample)
}

// SampleObserverFunc adapts a function to the SampleObserver interface.
type SampleObserverFunc func(s Sample)

// ObserveSample calls f.
func (f SampleObserverFunc) ObserveSample(s Sample) { f(s) }

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default WaitFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Worker is a running background unit the supervisor controls.
type Worker interface {
	// Stop requests shutdown and waits for the worker to exit.
	// It is idempotent and returns the worker's terminal error.
	Stop() error
	// Done is closed once the worker has exited.
	Done() <-chan struct{}
}

// Launcher starts a Worker.
type Launcher interface {
	Launch(ctx context.Context) (Worker, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context) (Worker, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context) (Worker, error) { return f(ctx) }

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	// Interval is the pause between two samples. Required.
	Interval time.Duration

	// Observers are notified after each successful append.
	Observers []SampleObserver

	// Wait is used between samples. Default: SleepContext.
	Wait WaitFunc

	Logger *slog.Logger
}

// Sampler repeatedly reads the probe and appends to its sink until cancelled.
// It knows nothing about the total monitoring duration.
type Sampler struct {
	probe     Probe
	sink      SampleSink
	interval  time.Duration
	observers []SampleObserver
	wait      WaitFunc
	logger    *slog.Logger

	started atomic.Bool
	lastTS  int64
}

// NewSampler creates a sampler that takes ownership of sink; the sink is
// closed when the sampling loop exits.
func NewSampler(probe Probe, sink SampleSink, cfg SamplerConfig) (*Sampler, error) {
	if probe == nil {
		return nil, newConfigError("probe", "must not be nil", nil)
	}
	if sink == nil {
		return nil, newConfigError("sink", "must not be nil", nil)
	}
	if cfg.Interval <= 0 {
		return nil, newConfigError("interval", "must be positive", nil)
	}
	if cfg.Wait == nil {
		cfg.Wait = SleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sampler{
		probe:     probe,
		sink:      sink,
		interval:  cfg.Interval,
		observers: cfg.Observers,
		wait:      cfg.Wait,
		logger:    cfg.Logger,
	}, nil
}

// Run samples until ctx is cancelled. It returns nil on cancellation and an
// ExecutionError when the probe or the sink fails; failures are not retried.
func (s *Sampler) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.sink.Close(); cerr != nil && err == nil {
			err = newExecutionError("sampler", cerr)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.sampleOnce(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			samplerErrors.Inc()
			s.logger.Error("sampler failed", "err", err)
			return newExecutionError("sampler", err)
		}
		if err := s.wait(ctx, s.interval); err != nil {
			return nil
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) error {
	smp, err := s.probe.Read(ctx)
	if err != nil {
		return err
	}

	// CSV keeps microseconds; truncating here makes the round trip exact
	smp.Timestamp -= smp.Timestamp % int64(time.Microsecond)
	if smp.Timestamp <= s.lastTS {
		smp.Timestamp = s.lastTS + int64(time.Microsecond)
	}

	if err := s.sink.Append(smp); err != nil {
		return err
	}
	s.lastTS = smp.Timestamp

	samplesWritten.Inc()
	for _, o := range s.observers {
		o.ObserveSample(smp)
	}
	return nil
}

// Start runs the sampler on its own goroutine. A sampler can be started once.
func (s *Sampler) Start(ctx context.Context) (*SamplerHandle, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, newExecutionError("sampler", errors.New("already started"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &SamplerHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = s.Run(runCtx)
	}()
	s.logger.Debug("sampler started", "interval", s.interval)
	return h, nil
}

// Launch implements Launcher.
func (s *Sampler) Launch(ctx context.Context) (Worker, error) {
	return s.Start(ctx)
}

// SamplerHandle controls a running sampler.
type SamplerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	once   sync.Once
}

// Stop cancels the sampler and waits for its loop to exit. It is safe to
// call repeatedly and after the loop has already exited on its own.
func (h *SamplerHandle) Stop() error {
	h.once.Do(h.cancel)
	<-h.done
	return h.err
}

// Done is closed once the sampling loop has exited.
func (h *SamplerHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error of the loop. Valid after Done is closed.
func (h *SamplerHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}
