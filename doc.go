// Package agewatch monitors a host's resource usage and forecasts the slow
// resource drift of long-running software ("software aging").
//
// A run has two halves. Monitoring starts a Sampler on its own goroutine
// that appends one CPU/Mem/Disk sample per interval to a sink, while a
// Supervisor counts the session down and reports progress. Forecasting
// loads the sink into a Series, trains the selected Model and renders
// observed against predicted values.
//
// # Basic Usage
//
// Batch run over an existing sink:
//
//	cfg := agewatch.DefaultConfig()
//	cfg.SinkPath = "data/monitoring.csv"
//	cfg.Model = "ma"
//	cfg.SavePlot = true
//
//	fw, err := agewatch.NewFramework(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := fw.Run(ctx)
//
// Monitor first, then train:
//
//	cfg.RunMonitoring = true
//	cfg.Monitoring.DurationSeconds = 600
//	cfg.Monitoring.IntervalSeconds = 5
//
// Using the engine directly:
//
//	series, err := agewatch.LoadSeries("data/monitoring.csv")
//	sel, _ := agewatch.NewResourceSelector("CPU")
//	engine, err := agewatch.NewForecastingEngine(series, "h_lstm", sel, agewatch.DefaultModelConfig(), nil)
//	err = engine.Train(ctx)
//	err = engine.Render(agewatch.NewSummaryRenderer(os.Stdout))
//
// # Models
//
//   - ma: rolling mean of the last Window samples, extended recursively.
//     Deterministic.
//   - h_lstm: Holt-Winters decomposition plus an LSTM fitted on the
//     standardized residual. Reproducible for a fixed non-zero Seed.
//
// # Sinks
//
// Paths ending in .db, .sqlite or .sqlite3 are stored in SQLite; anything
// else is CSV with the header timestamp,CPU,Mem,Disk.
//
// # Errors
//
// Configuration errors match ErrConfig and are raised by constructors.
// Problems with the recorded data match ErrData. Failures while sampling,
// supervising or training match ErrExecution.
package agewatch
