package agewatch

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration of a run. The zero value is not valid;
// start from DefaultConfig.
type Config struct {
	// Model is the forecasting model: ma or h_lstm. Default: h_lstm.
	Model string `yaml:"model"`

	// Resources are the forecast targets. Empty means all. All resources
	// are sampled either way.
	Resources []string `yaml:"resources"`

	// SinkPath is written by monitoring and read for training.
	SinkPath string `yaml:"sink_path"`

	// RunMonitoring records a new series before training.
	RunMonitoring bool `yaml:"run_monitoring"`

	// RealTime selects the real-time mode instead of batch.
	RealTime bool `yaml:"real_time"`

	// SavePlot exports the rendered chart next to the sink.
	SavePlot bool `yaml:"save_plot"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
	Models     ModelConfig      `yaml:"models"`
	Export     ExportConfig     `yaml:"export"`
	Logging    LoggingConfig    `yaml:"logging"`
	HTTP       HTTPConfig       `yaml:"http"`
	Live       LiveConfig       `yaml:"live"`

	// RemoteWrite pushes samples and forecasts when set.
	RemoteWrite *RemoteWriteConfig `yaml:"remote_write"`

	// Archive uploads the sink and the plot when set.
	Archive *ArchiveConfig `yaml:"archive"`
}

// MonitoringConfig configures the sampling session.
type MonitoringConfig struct {
	// DurationSeconds is how long to monitor. Default: 60.
	DurationSeconds int `yaml:"duration_seconds"`

	// IntervalSeconds is the pause between samples. Default: 1.
	IntervalSeconds int `yaml:"interval_seconds"`

	// DiskPath is the mount point whose usage is sampled. Default: /.
	DiskPath string `yaml:"disk_path"`
}

// Duration returns the monitoring duration.
func (c MonitoringConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// Interval returns the sampling interval.
func (c MonitoringConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ExportConfig configures the exported image.
type ExportConfig struct {
	// Path overrides the derived path (sink path with a .png extension).
	Path string `yaml:"path"`

	// Width and Height are the fixed export resolution.
	// Default: 1920x1440.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Model:    string(ModelHybridLSTM),
		SinkPath: "data/monitoring.csv",
		Monitoring: MonitoringConfig{
			DurationSeconds: 60,
			IntervalSeconds: 1,
			DiskPath:        "/",
		},
		Models: DefaultModelConfig(),
		Export: ExportConfig{
			Width:  DefaultExportWidth,
			Height: DefaultExportHeight,
		},
		Logging: DefaultLoggingConfig(),
		Live:    DefaultLiveConfig(),
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, newConfigError("config", "cannot read "+path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, newConfigError("config", "cannot parse "+path, err)
	}
	return cfg, nil
}

// Validate checks everything that can be checked without I/O. Monitoring
// parameters are only checked when monitoring is enabled.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseModelKind(c.Model); err != nil {
		errs = append(errs, err)
	}
	if _, err := NewResourceSelector(c.Resources...); err != nil {
		errs = append(errs, err)
	}
	if c.SinkPath == "" {
		errs = append(errs, newConfigError("sink_path", "must not be empty", nil))
	}
	if c.RunMonitoring {
		m := c.Monitoring
		switch {
		case m.DurationSeconds <= 0:
			errs = append(errs, newConfigError("monitoring.duration_seconds", "must be positive", nil))
		case m.IntervalSeconds <= 0:
			errs = append(errs, newConfigError("monitoring.interval_seconds", "must be positive", nil))
		case m.IntervalSeconds > m.DurationSeconds:
			errs = append(errs, newConfigError("monitoring.interval_seconds",
				fmt.Sprintf("%d exceeds duration %d", m.IntervalSeconds, m.DurationSeconds), nil))
		}
	}
	if c.Models.Horizon < 0 {
		errs = append(errs, newConfigError("models.horizon", "must not be negative", nil))
	}
	if c.Export.Width < 0 || c.Export.Height < 0 {
		errs = append(errs, newConfigError("export", "resolution must not be negative", nil))
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.RemoteWrite != nil && c.RemoteWrite.URL == "" {
		errs = append(errs, newConfigError("remote_write.url", "must not be empty", nil))
	}
	if c.Archive != nil && c.Archive.Bucket == "" {
		errs = append(errs, newConfigError("archive.bucket", "must not be empty", nil))
	}
	return errors.Join(errs...)
}

// ExportPath returns where the plot is saved.
func (c Config) ExportPath() string {
	if c.Export.Path != "" {
		return c.Export.Path
	}
	return PlotPathFor(c.SinkPath)
}
