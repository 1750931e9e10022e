// Package cli implements the agewatch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agewatch/agewatch"
)

const envPrefix = "AGEWATCH"

// Flag names. They double as viper keys and, upper-cased with '-' as '_'
// and the AGEWATCH_ prefix, as environment variables.
const (
	flagConfig    = "config"
	flagModel     = "model"
	flagMonitor   = "run-monitoring"
	flagResources = "resources-to-predict"
	flagDuration  = "monitoring-time-in-seconds"
	flagInterval  = "monitoring-interval-in-seconds"
	flagFilename  = "filename"
	flagSavePlot  = "save-plot"
	flagRealTime  = "run-in-real-time"
	flagHorizon   = "horizon"
	flagLogLevel  = "log-level"
	flagHTTPAddr  = "http-addr"
)

// NewRootCommand builds the agewatch command. Progress goes to errOut,
// result summaries to out.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := agewatch.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "agewatch",
		Short: "Monitor resource usage and forecast software aging",
		Long: `agewatch samples CPU, memory and disk usage of this host, stores the
samples in a CSV or SQLite sink and fits a forecasting model (ma or h_lstm)
on the recorded series to predict future resource trends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, out, errOut)
		},
	}

	f := cmd.Flags()
	f.String(flagConfig, "", "Path to a YAML configuration file")
	f.String(flagModel, def.Model, "Model for time series prediction (ma, h_lstm)")
	f.Bool(flagMonitor, false, "Run the monitoring process before training")
	f.StringSlice(flagResources, []string{"CPU", "Mem", "Disk"},
		"Resources to predict; all resources are monitored either way")
	f.Int(flagDuration, def.Monitoring.DurationSeconds, "Time in seconds to monitor resource usage")
	f.Int(flagInterval, def.Monitoring.IntervalSeconds, "Interval between two samples in seconds")
	f.String(flagFilename, def.SinkPath, "Sink written by monitoring and read for training (.csv, .db)")
	f.Bool(flagSavePlot, false, "Save the plot as a png file next to the sink")
	f.Bool(flagRealTime, false, "Run monitoring and prediction in real time (not implemented)")
	f.Int(flagHorizon, def.Models.Horizon, "Number of steps to forecast")
	f.String(flagLogLevel, def.Logging.Level, "Log level (debug, info, warn, error)")
	f.String(flagHTTPAddr, "", "Serve /metrics, /healthz and /live on this address")
	_ = v.BindPFlags(f)

	return cmd
}

// resolveConfig layers defaults, the config file, environment variables
// and explicitly set flags, in increasing precedence.
func resolveConfig(v *viper.Viper) (agewatch.Config, error) {
	cfg := agewatch.DefaultConfig()
	if path := v.GetString(flagConfig); path != "" {
		loaded, err := agewatch.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if v.IsSet(flagModel) {
		cfg.Model = v.GetString(flagModel)
	}
	if v.IsSet(flagMonitor) {
		cfg.RunMonitoring = v.GetBool(flagMonitor)
	}
	if v.IsSet(flagResources) {
		cfg.Resources = v.GetStringSlice(flagResources)
	}
	if v.IsSet(flagDuration) {
		cfg.Monitoring.DurationSeconds = v.GetInt(flagDuration)
	}
	if v.IsSet(flagInterval) {
		cfg.Monitoring.IntervalSeconds = v.GetInt(flagInterval)
	}
	if v.IsSet(flagFilename) {
		cfg.SinkPath = v.GetString(flagFilename)
	}
	if v.IsSet(flagSavePlot) {
		cfg.SavePlot = v.GetBool(flagSavePlot)
	}
	if v.IsSet(flagRealTime) {
		cfg.RealTime = v.GetBool(flagRealTime)
	}
	if v.IsSet(flagHorizon) {
		cfg.Models.Horizon = v.GetInt(flagHorizon)
	}
	if v.IsSet(flagLogLevel) {
		cfg.Logging.Level = v.GetString(flagLogLevel)
	}
	if v.IsSet(flagHTTPAddr) {
		cfg.HTTP.Addr = v.GetString(flagHTTPAddr)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg agewatch.Config, out, errOut io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, closer, err := agewatch.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []agewatch.FrameworkOption{
		agewatch.WithLogger(logger),
		agewatch.WithReporter(agewatch.NewTerminalReporter(errOut, "Monitoring")),
		agewatch.WithRenderer(agewatch.NewSummaryRenderer(out)),
	}
	var hub *agewatch.LiveHub
	if cfg.HTTP.Addr != "" {
		hub = agewatch.NewLiveHub(cfg.Live)
		opts = append(opts, agewatch.WithLiveHub(hub))
	}

	fw, err := agewatch.NewFramework(cfg, opts...)
	if err != nil {
		return err
	}

	if hub != nil {
		srv := agewatch.NewStatusServer(fw.Status, hub, logger)
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		defer func() { _ = srv.Close() }()
	}

	res, err := fw.Run(ctx)
	if err != nil {
		return err
	}
	if res.ExportPath != "" && res.ExportErr == nil {
		fmt.Fprintf(out, "Plot saved to %s\n", res.ExportPath)
	}
	return nil
}

// Exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitBadConfig = 2
)

// ExitCode maps an error returned by the command to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, agewatch.ErrConfig):
		return ExitBadConfig
	}
	return ExitFailure
}

// Execute runs the command with the process arguments and returns the exit
// code.
func Execute() int {
	cmd := NewRootCommand(os.Stdout, os.Stderr)
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}
