package agewatch

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/google/uuid"
)

// Mode is the orchestration mode, fixed at construction.
type Mode int

const (
	// ModeBatch monitors (optionally), trains once, renders and exports.
	ModeBatch Mode = iota
	// ModeRealTime is the monitor-predict-react loop. It only runs through a
	// RealTimeRunner.
	ModeRealTime
)

func (m Mode) String() string {
	if m == ModeRealTime {
		return "real-time"
	}
	return "batch"
}

// RealTimeRunner implements the real-time mode. It receives the framework
// to reuse its monitoring and training steps.
type RealTimeRunner interface {
	RunRealTime(ctx context.Context, f *Framework) (*RunResult, error)
}

// Archiver uploads run artifacts. *S3Archiver implements it.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, files ...string) ([]string, error)
}

// ResultPusher exports a run to a metrics backend. *RemoteWriter implements it.
type ResultPusher interface {
	Push(ctx context.Context, sessionID string, series *Series, forecast *Forecast) error
}

// RunResult is everything a run produced. Export, archive and remote
// write failures are recorded here and do not fail the run.
type RunResult struct {
	SessionID string
	Mode      Mode

	Monitoring *MonitoringReport
	Series     *Series
	Forecast   *Forecast

	// Image is the in-memory rendered chart.
	Image     image.Image
	RenderErr error

	ExportPath string
	ExportErr  error

	ArchivedKeys []string
	ArchiveErr   error

	RemoteWriteErr error
}

// Framework composes monitoring and forecasting for one run. All
// configuration is validated by NewFramework; nothing touches the file
// system before Run.
type Framework struct {
	cfg      Config
	mode     Mode
	selector ResourceSelector
	session  *MonitoringSession
	runID    string

	logger     *slog.Logger
	probe      Probe
	reporter   ProgressReporter
	renderers  []ResultRenderer
	wait       WaitFunc
	sampleWait WaitFunc
	observers  []SampleObserver
	hub        *LiveHub
	realtime   RealTimeRunner
	archiver   Archiver
	pusher     ResultPusher

	status statusTracker
}

// FrameworkOption configures a Framework.
type FrameworkOption func(*Framework)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) FrameworkOption {
	return func(f *Framework) { f.logger = l }
}

// WithProbe replaces the host probe.
func WithProbe(p Probe) FrameworkOption {
	return func(f *Framework) { f.probe = p }
}

// WithReporter sets where monitoring progress goes. Default: NopReporter.
func WithReporter(r ProgressReporter) FrameworkOption {
	return func(f *Framework) { f.reporter = r }
}

// WithRenderer adds a renderer run after the built-in image renderer.
func WithRenderer(r ResultRenderer) FrameworkOption {
	return func(f *Framework) { f.renderers = append(f.renderers, r) }
}

// WithWait replaces the sleep used by the supervisor countdown and, unless
// WithSamplerWait is given, by the sampler.
func WithWait(w WaitFunc) FrameworkOption {
	return func(f *Framework) { f.wait = w }
}

// WithSamplerWait replaces the sleep between two samples.
func WithSamplerWait(w WaitFunc) FrameworkOption {
	return func(f *Framework) { f.sampleWait = w }
}

// WithSampleObserver adds an observer notified of every written sample.
func WithSampleObserver(o SampleObserver) FrameworkOption {
	return func(f *Framework) { f.observers = append(f.observers, o) }
}

// WithLiveHub publishes samples and progress to hub.
func WithLiveHub(h *LiveHub) FrameworkOption {
	return func(f *Framework) { f.hub = h }
}

// WithRealTimeRunner sets the implementation of the real-time mode.
func WithRealTimeRunner(r RealTimeRunner) FrameworkOption {
	return func(f *Framework) { f.realtime = r }
}

// WithArchiver overrides the archiver built from Config.Archive.
func WithArchiver(a Archiver) FrameworkOption {
	return func(f *Framework) { f.archiver = a }
}

// WithResultPusher overrides the remote writer built from Config.RemoteWrite.
func WithResultPusher(p ResultPusher) FrameworkOption {
	return func(f *Framework) { f.pusher = p }
}

// NewFramework validates cfg and prepares a run. Configuration errors
// surface here, never mid-run.
func NewFramework(cfg Config, opts ...FrameworkOption) (*Framework, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	selector, err := NewResourceSelector(cfg.Resources...)
	if err != nil {
		return nil, err
	}

	f := &Framework{
		cfg:      cfg,
		selector: selector,
		reporter: NopReporter{},
		wait:     SleepContext,
		logger:   slog.Default(),
	}
	if cfg.RealTime {
		f.mode = ModeRealTime
	}
	for _, opt := range opts {
		opt(f)
	}

	if cfg.RunMonitoring {
		f.session, err = NewMonitoringSession(cfg.Monitoring.Duration(), cfg.Monitoring.Interval(), cfg.SinkPath)
		if err != nil {
			return nil, err
		}
		f.runID = f.session.ID
	} else {
		f.runID = uuid.NewString()
	}
	if f.probe == nil {
		f.probe = NewHostProbe(cfg.Monitoring.DiskPath)
	}
	if f.sampleWait == nil {
		f.sampleWait = f.wait
	}
	if f.pusher == nil && cfg.RemoteWrite != nil {
		rw, err := NewRemoteWriter(*cfg.RemoteWrite, f.logger)
		if err != nil {
			return nil, err
		}
		f.pusher = rw
	}

	f.status.status = RunStatus{
		SessionID: f.runID,
		Mode:      f.mode.String(),
		Model:     cfg.Model,
		Stage:     StageIdle,
	}
	return f, nil
}

// Mode returns the orchestration mode.
func (f *Framework) Mode() Mode { return f.mode }

// Config returns the validated configuration.
func (f *Framework) Config() Config { return f.cfg }

// Session returns the monitoring session, or nil when monitoring is off.
func (f *Framework) Session() *MonitoringSession { return f.session }

// SessionID identifies the run in logs, archives and remote write labels.
func (f *Framework) SessionID() string { return f.runID }

// Status returns the current run status.
func (f *Framework) Status() RunStatus { return f.status.get() }

// Run executes the pipeline of the configured mode.
func (f *Framework) Run(ctx context.Context) (*RunResult, error) {
	var (
		res *RunResult
		err error
	)
	switch f.mode {
	case ModeRealTime:
		res, err = f.runRealTime(ctx)
	default:
		res, err = f.runBatch(ctx)
	}

	status := "ok"
	if err != nil {
		status = "error"
		f.status.set(StageFailed, err)
	} else {
		f.status.set(StageDone, nil)
	}
	runsTotal.WithLabelValues(f.mode.String(), status).Inc()
	return res, err
}

func (f *Framework) runRealTime(ctx context.Context) (*RunResult, error) {
	if f.realtime == nil {
		f.logger.Warn("real-time mode is not implemented, nothing to do", "session", f.runID)
		return &RunResult{SessionID: f.runID, Mode: ModeRealTime}, nil
	}
	return f.realtime.RunRealTime(ctx, f)
}

// runBatch: [monitor] → load → train → render → [export] → [archive] →
// [remote write]. Any failure up to training aborts the run.
func (f *Framework) runBatch(ctx context.Context) (*RunResult, error) {
	res := &RunResult{SessionID: f.runID, Mode: ModeBatch}

	if f.session != nil {
		report, err := f.Monitor(ctx)
		res.Monitoring = &report
		if err != nil {
			return res, err
		}
	}

	f.status.set(StageLoading, nil)
	series, err := LoadSeries(f.cfg.SinkPath)
	if err != nil {
		f.logger.Error("cannot load series", "path", f.cfg.SinkPath, "err", err)
		return res, err
	}
	res.Series = series

	engine, err := NewForecastingEngine(series, f.cfg.Model, f.selector, f.cfg.Models, f.logger)
	if err != nil {
		return res, err
	}
	f.status.set(StageTraining, nil)
	if err := engine.Train(ctx); err != nil {
		return res, err
	}
	if res.Forecast, err = engine.Forecast(); err != nil {
		return res, newExecutionError("train", err)
	}

	f.status.set(StageRendering, nil)
	view := NewImageRenderer(0, 0)
	renderers := append(MultiRenderer{view}, f.renderers...)
	if err := engine.Render(renderers); err != nil {
		f.logger.Warn("rendering failed", "err", err)
		res.RenderErr = err
	}
	res.Image = view.Image()

	f.status.set(StageExporting, nil)
	if f.cfg.SavePlot {
		res.ExportPath = f.cfg.ExportPath()
		res.ExportErr = view.Export(res.ExportPath, f.cfg.Export.Width, f.cfg.Export.Height)
		if res.ExportErr != nil {
			f.logger.Warn("plot export failed", "path", res.ExportPath, "err", res.ExportErr)
		} else {
			f.logger.Info("plot exported", "path", res.ExportPath)
		}
	}

	f.archive(ctx, res)
	if f.pusher != nil {
		res.RemoteWriteErr = f.pusher.Push(ctx, f.runID, series, res.Forecast)
		if res.RemoteWriteErr != nil {
			f.logger.Warn("remote write failed", "err", res.RemoteWriteErr)
		}
	}
	return res, nil
}

// Monitor runs one bounded monitoring session. It returns once the
// sampler has been stopped.
func (f *Framework) Monitor(ctx context.Context) (MonitoringReport, error) {
	if f.session == nil {
		return MonitoringReport{}, newConfigError("run_monitoring", "monitoring is disabled", nil)
	}
	f.status.set(StageMonitoring, nil)

	observers := []SampleObserver{usageObserver}
	reporter := f.reporter
	if f.hub != nil {
		observers = append(observers, f.hub)
		reporter = MultiReporter{reporter, f.hub}
	}
	observers = append(observers, f.observers...)

	launcher := LauncherFunc(func(ctx context.Context) (Worker, error) {
		sink, err := CreateSink(f.session.SinkPath)
		if err != nil {
			return nil, err
		}
		sampler, err := NewSampler(f.probe, sink, SamplerConfig{
			Interval:  f.session.Interval,
			Observers: observers,
			Wait:      f.sampleWait,
			Logger:    f.logger,
		})
		if err != nil {
			_ = sink.Close()
			return nil, err
		}
		return sampler.Start(ctx)
	})

	sup := NewSupervisor(f.session,
		WithProgressReporter(reporter),
		WithWaitFunc(f.wait),
		WithSupervisorLogger(f.logger))
	return sup.Run(ctx, launcher)
}

func (f *Framework) archive(ctx context.Context, res *RunResult) {
	a := f.archiver
	if a == nil && f.cfg.Archive != nil {
		s3a, err := NewS3Archiver(ctx, *f.cfg.Archive, f.logger)
		if err != nil {
			res.ArchiveErr = err
			f.logger.Warn("archive unavailable", "err", err)
			return
		}
		a = s3a
	}
	if a == nil {
		return
	}

	files := []string{f.cfg.SinkPath}
	if res.ExportPath != "" && res.ExportErr == nil {
		files = append(files, res.ExportPath)
	}
	res.ArchivedKeys, res.ArchiveErr = a.Archive(ctx, f.runID, files...)
	if res.ArchiveErr != nil {
		f.logger.Warn("archive failed", "err", res.ArchiveErr)
	}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }

// IsDataError reports whether err is a data error.
func IsDataError(err error) bool { return errors.Is(err, ErrData) }

// IsExecutionError reports whether err is an execution error.
func IsExecutionError(err error) bool { return errors.Is(err, ErrExecution) }
