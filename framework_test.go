package agewatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/agewatch/agewatch/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func batchConfig(t *testing.T, rows int) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Model = "ma"
	cfg.SinkPath = testutil.TempSinkPath(t, "data/monitoring.csv")
	if rows > 0 {
		start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		testutil.WriteFile(t, cfg.SinkPath, testutil.UsageCSV(rows, start, 5*time.Second))
	}
	return cfg
}

type fakeArchiver struct {
	files []string
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, sessionID string, files ...string) ([]string, error) {
	a.files = files
	if a.err != nil {
		return nil, a.err
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = sessionID + "/" + f
	}
	return keys, nil
}

type fakePusher struct {
	calls int
	err   error
}

func (p *fakePusher) Push(context.Context, string, *Series, *Forecast) error {
	p.calls++
	return p.err
}

func TestNewFramework_InvalidConfig(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.Model = "arima"
	if _, err := NewFramework(cfg); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}

	cfg = batchConfig(t, 0)
	cfg.RunMonitoring = true
	cfg.Monitoring.IntervalSeconds = 0
	if _, err := NewFramework(cfg); !errors.Is(err, ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
	testutil.MustNotExist(t, cfg.SinkPath)
}

func TestFramework_MissingSink(t *testing.T) {
	cfg := batchConfig(t, 0)
	fw, err := NewFramework(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	if fw.Mode() != ModeBatch || fw.Session() != nil || fw.SessionID() == "" {
		t.Errorf("unexpected framework state: mode %s session %v", fw.Mode(), fw.Session())
	}

	res, err := fw.Run(context.Background())
	if !errors.Is(err, ErrSinkNotFound) || !IsDataError(err) {
		t.Fatalf("expected sink not found data error, got %v", err)
	}
	if res.Forecast != nil || res.Series != nil {
		t.Error("nothing should be trained without data")
	}
	testutil.MustNotExist(t, cfg.SinkPath)
	if st := fw.Status(); st.Stage != StageFailed || st.Error == "" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestFramework_BatchRun(t *testing.T) {
	cfg := batchConfig(t, 60)
	cfg.SavePlot = true
	cfg.Resources = []string{"CPU", "Mem"}

	var chart *Chart
	archiver := &fakeArchiver{}
	pusher := &fakePusher{}
	fw, err := NewFramework(cfg,
		WithLogger(quietLogger()),
		WithRenderer(ResultRendererFunc(func(c *Chart) error { chart = c; return nil })),
		WithArchiver(archiver),
		WithResultPusher(pusher))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}

	res, err := fw.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SessionID != fw.SessionID() || res.Mode != ModeBatch || res.Monitoring != nil {
		t.Errorf("unexpected result header %+v", res)
	}
	if res.Series.Len() != 60 {
		t.Errorf("expected 60 samples, got %d", res.Series.Len())
	}
	if got := res.Forecast.Targets(); len(got) != 2 || got[0] != ResourceCPU || got[1] != ResourceMem {
		t.Errorf("targets = %v", got)
	}
	if chart == nil || len(chart.Panels) != 2 {
		t.Error("extra renderer should receive the chart")
	}
	if res.Image == nil || res.RenderErr != nil {
		t.Errorf("expected an in-memory image, render err %v", res.RenderErr)
	}

	if res.ExportErr != nil {
		t.Fatalf("export failed: %v", res.ExportErr)
	}
	if !strings.HasSuffix(res.ExportPath, "monitoring.png") {
		t.Errorf("ExportPath = %q", res.ExportPath)
	}
	img, err := imaging.Open(res.ExportPath)
	if err != nil {
		t.Fatalf("open plot: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1920 || b.Dy() != 1440 {
		t.Errorf("plot size = %dx%d, want 1920x1440", b.Dx(), b.Dy())
	}

	if len(archiver.files) != 2 || archiver.files[0] != cfg.SinkPath || archiver.files[1] != res.ExportPath {
		t.Errorf("unexpected archived files %v", archiver.files)
	}
	if len(res.ArchivedKeys) != 2 || res.ArchiveErr != nil {
		t.Errorf("unexpected archive result %v %v", res.ArchivedKeys, res.ArchiveErr)
	}
	if pusher.calls != 1 || res.RemoteWriteErr != nil {
		t.Errorf("expected one successful push, got %d calls, err %v", pusher.calls, res.RemoteWriteErr)
	}
	if st := fw.Status(); st.Stage != StageDone {
		t.Errorf("stage = %s, want done", st.Stage)
	}
}

func TestFramework_ExportFailuresAreNotFatal(t *testing.T) {
	cfg := batchConfig(t, 30)
	archiver := &fakeArchiver{err: errors.New("bucket gone")}
	pusher := &fakePusher{err: errors.New("connection refused")}

	fw, err := NewFramework(cfg, WithLogger(quietLogger()), WithArchiver(archiver), WithResultPusher(pusher))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	res, err := fw.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Forecast == nil {
		t.Fatal("expected a forecast")
	}
	if res.ArchiveErr == nil || res.RemoteWriteErr == nil {
		t.Errorf("expected recorded failures, got %v / %v", res.ArchiveErr, res.RemoteWriteErr)
	}
	// no plot was saved, only the sink is archived
	if len(archiver.files) != 1 {
		t.Errorf("unexpected archived files %v", archiver.files)
	}
}

// lockstepMonitoring drives the sampler and the countdown in turns: the
// countdown advances one interval per written sample and lets the sampler
// take the next one until ticks intervals have elapsed.
func lockstepMonitoring(ticks int) []FrameworkOption {
	written := make(chan struct{}, 16)
	gate := make(chan struct{}, 16)

	var mu sync.Mutex
	reads := 0
	probe := ProbeFunc(func(ctx context.Context) (Sample, error) {
		mu.Lock()
		reads++
		first := reads == 1
		mu.Unlock()
		if !first {
			select {
			case <-gate:
			case <-ctx.Done():
				return Sample{}, ctx.Err()
			}
		}
		return Sample{Timestamp: time.Now().UnixNano(), CPU: 20, Mem: 30, Disk: 40}, nil
	})

	elapsed := 0
	wait := func(ctx context.Context, _ time.Duration) error {
		select {
		case <-written:
		case <-ctx.Done():
			return ctx.Err()
		}
		elapsed++
		if elapsed < ticks {
			gate <- struct{}{}
		}
		return nil
	}

	return []FrameworkOption{
		WithProbe(probe),
		WithWait(wait),
		WithSamplerWait(noWait),
		WithSampleObserver(SampleObserverFunc(func(Sample) { written <- struct{}{} })),
	}
}

func TestFramework_MonitorThenTrain(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.RunMonitoring = true
	cfg.Monitoring.DurationSeconds = 10
	cfg.Monitoring.IntervalSeconds = 2

	rep := &recordingReporter{}
	opts := append(lockstepMonitoring(5), WithLogger(quietLogger()), WithReporter(rep))
	fw, err := NewFramework(cfg, opts...)
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	if fw.Session() == nil || fw.Session().Ticks() != 5 || fw.SessionID() != fw.Session().ID {
		t.Fatalf("unexpected session %+v", fw.Session())
	}

	res, err := fw.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Monitoring == nil || res.Monitoring.Ticks != 5 || !res.Monitoring.Stopped {
		t.Errorf("unexpected monitoring report %+v", res.Monitoring)
	}
	if len(rep.ticks) != 5 || rep.finishes != 1 {
		t.Errorf("expected 5 ticks and one finish, got %d and %d", len(rep.ticks), rep.finishes)
	}

	lines := testutil.ReadLines(t, cfg.SinkPath)
	if len(lines) != 6 {
		t.Fatalf("expected header and 5 rows, got %d lines", len(lines))
	}
	if res.Series.Len() != 5 || res.Forecast == nil {
		t.Errorf("expected training on the 5 recorded samples")
	}
}

func TestFramework_MonitoringStartsFreshSink(t *testing.T) {
	for _, name := range []string{"monitoring.csv", "monitoring.db"} {
		t.Run(name, func(t *testing.T) {
			cfg := batchConfig(t, 0)
			cfg.SinkPath = testutil.TempSinkPath(t, name)
			cfg.RunMonitoring = true
			cfg.Monitoring.DurationSeconds = 10
			cfg.Monitoring.IntervalSeconds = 2

			for run := 1; run <= 2; run++ {
				opts := append(lockstepMonitoring(5), WithLogger(quietLogger()))
				fw, err := NewFramework(cfg, opts...)
				if err != nil {
					t.Fatalf("NewFramework: %v", err)
				}
				res, err := fw.Run(context.Background())
				if err != nil {
					t.Fatalf("run %d: %v", run, err)
				}
				if res.Series.Len() != 5 {
					t.Fatalf("run %d trained on %d samples, want 5", run, res.Series.Len())
				}
			}
		})
	}
}

func TestFramework_MonitoringFailureStopsRun(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.RunMonitoring = true
	cfg.Monitoring.DurationSeconds = 10

	probe := ProbeFunc(func(context.Context) (Sample, error) {
		return Sample{}, errors.New("cannot read /proc/stat")
	})
	wait := func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	fw, err := NewFramework(cfg, WithLogger(quietLogger()), WithProbe(probe), WithWait(wait))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	res, err := fw.Run(context.Background())
	if !IsExecutionError(err) || !strings.Contains(err.Error(), "/proc/stat") {
		t.Fatalf("expected sampler execution error, got %v", err)
	}
	if res.Monitoring == nil || !res.Monitoring.Stopped {
		t.Errorf("sampler should have been stopped: %+v", res.Monitoring)
	}
	if res.Forecast != nil {
		t.Error("training must not run after a monitoring failure")
	}
}

func TestFramework_MonitorDisabled(t *testing.T) {
	fw, err := NewFramework(batchConfig(t, 0), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	if _, err := fw.Monitor(context.Background()); !IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

type stubRealTime struct{ calls int }

func (s *stubRealTime) RunRealTime(_ context.Context, f *Framework) (*RunResult, error) {
	s.calls++
	return &RunResult{SessionID: f.SessionID(), Mode: f.Mode()}, nil
}

func TestFramework_RealTime(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.RealTime = true

	fw, err := NewFramework(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	if fw.Mode() != ModeRealTime || fw.Mode().String() != "real-time" {
		t.Errorf("unexpected mode %s", fw.Mode())
	}
	res, err := fw.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Mode != ModeRealTime || res.Forecast != nil {
		t.Errorf("real-time without a runner should do nothing: %+v", res)
	}
	testutil.MustNotExist(t, cfg.SinkPath)

	runner := &stubRealTime{}
	fw, err = NewFramework(cfg, WithLogger(quietLogger()), WithRealTimeRunner(runner))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	if _, err := fw.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("expected the runner to be called once, got %d", runner.calls)
	}
}

func TestFramework_LiveHub(t *testing.T) {
	cfg := batchConfig(t, 0)
	cfg.RunMonitoring = true
	cfg.Monitoring.DurationSeconds = 1
	cfg.Monitoring.IntervalSeconds = 1

	hub := NewLiveHub(DefaultLiveConfig())
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub.ID)

	written := make(chan struct{}, 4)
	probe, _ := limitedProbe(1, func(int) int64 { return time.Now().UnixNano() })
	wait := func(ctx context.Context, _ time.Duration) error {
		select {
		case <-written:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	fw, err := NewFramework(cfg,
		WithLogger(quietLogger()),
		WithProbe(probe),
		WithWait(wait),
		WithSamplerWait(noWait),
		WithSampleObserver(SampleObserverFunc(func(Sample) { written <- struct{}{} })),
		WithLiveHub(hub))
	if err != nil {
		t.Fatalf("NewFramework: %v", err)
	}
	if _, err := fw.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	var types []string
	for len(types) < 3 {
		select {
		case e := <-sub.C():
			types = append(types, e.Type)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", types)
		}
	}
	want := []string{EventSample, EventProgress, EventFinish}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("events = %v, want %v", types, want)
			break
		}
	}
}
