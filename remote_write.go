package agewatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// Remote write metric names.
const (
	metricUsage         = "agewatch_resource_usage_percent"
	metricForecast      = "agewatch_resource_forecast_percent"
	metricForecastLower = "agewatch_resource_forecast_lower_percent"
	metricForecastUpper = "agewatch_resource_forecast_upper_percent"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteWriteConfig configures pushing results to a Prometheus remote
// write endpoint.
type RemoteWriteConfig struct {
	// URL is the full remote write endpoint, e.g. http://prom:9090/api/v1/write.
	URL string `yaml:"url"`

	// Job is the value of the job label. Default: "agewatch".
	Job string `yaml:"job"`

	// Timeout bounds a single request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	Retry RetryConfig `yaml:"retry"`

	// HTTPClient allows injecting a custom HTTP client for testing.
	HTTPClient HTTPDoer `yaml:"-"`
}

// statusError is a non-2xx response from the remote endpoint.
type statusError struct {
	Code int
	Body string
	// Wait is the delay requested by a Retry-After header.
	Wait time.Duration
}

func (e *statusError) HTTPStatusCode() int { return e.Code }

func (e *statusError) RetryAfter() time.Duration { return e.Wait }

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote write: status %d", e.Code)
	}
	return fmt.Sprintf("remote write: status %d: %s", e.Code, e.Body)
}

// RemoteWriter pushes observed samples and forecasts of a run as one
// snappy-compressed protobuf WriteRequest.
type RemoteWriter struct {
	cfg     RemoteWriteConfig
	client  HTTPDoer
	retryer *Retryer
	logger  *slog.Logger
}

// NewRemoteWriter validates cfg and creates a writer.
func NewRemoteWriter(cfg RemoteWriteConfig, logger *slog.Logger) (*RemoteWriter, error) {
	if cfg.URL == "" {
		return nil, newConfigError("remote_write.url", "must not be empty", nil)
	}
	if cfg.Job == "" {
		cfg.Job = "agewatch"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RemoteWriter{
		cfg:     cfg,
		client:  client,
		retryer: NewRetryer(cfg.Retry),
		logger:  logger,
	}, nil
}

// Push sends series and forecast, either of which may be nil. Transient
// failures are retried.
func (w *RemoteWriter) Push(ctx context.Context, sessionID string, series *Series, forecast *Forecast) error {
	req := buildWriteRequest(w.cfg.Job, sessionID, series, forecast)
	if len(req.Timeseries) == 0 {
		return nil
	}
	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal write request: %w", err)
	}
	payload := snappy.Encode(nil, data)

	result := w.retryer.Do(ctx, func(ctx context.Context) error {
		return w.send(ctx, payload)
	})
	if result.LastErr != nil {
		w.logger.Error("remote write failed", "url", w.cfg.URL, "attempts", result.Attempts, "err", result.LastErr)
		return result.LastErr
	}
	w.logger.Info("remote write done", "url", w.cfg.URL, "series", len(req.Timeseries), "attempts", result.Attempts)
	return nil
}

func (w *RemoteWriter) send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	req.Header.Set("User-Agent", "agewatch")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{
		Code: resp.StatusCode,
		Body: string(bytes.TrimSpace(body)),
		Wait: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// buildWriteRequest converts a run into remote write time series. Labels
// are sorted by name as the protocol requires.
func buildWriteRequest(job, sessionID string, series *Series, forecast *Forecast) *prompb.WriteRequest {
	req := &prompb.WriteRequest{}

	if series.Len() > 0 {
		for _, r := range AllResources {
			ts := prompb.TimeSeries{
				Labels: []prompb.Label{
					{Name: "__name__", Value: metricUsage},
					{Name: "job", Value: job},
					{Name: "resource", Value: string(r)},
					{Name: "session", Value: sessionID},
				},
				Samples: make([]prompb.Sample, 0, series.Len()),
			}
			for _, s := range series.Samples {
				ts.Samples = appendMillis(ts.Samples, s.Timestamp, s.Value(r))
			}
			req.Timeseries = append(req.Timeseries, ts)
		}
	}

	if forecast == nil {
		return req
	}
	for _, rf := range forecast.Resources {
		for _, m := range []struct {
			name  string
			value func(ForecastPoint) float64
		}{
			{metricForecast, func(p ForecastPoint) float64 { return p.Value }},
			{metricForecastLower, func(p ForecastPoint) float64 { return p.LowerBound }},
			{metricForecastUpper, func(p ForecastPoint) float64 { return p.UpperBound }},
		} {
			ts := prompb.TimeSeries{
				Labels: []prompb.Label{
					{Name: "__name__", Value: m.name},
					{Name: "job", Value: job},
					{Name: "model", Value: string(forecast.Model)},
					{Name: "resource", Value: string(rf.Resource)},
					{Name: "session", Value: sessionID},
				},
				Samples: make([]prompb.Sample, 0, len(rf.Predictions)),
			}
			for _, p := range rf.Predictions {
				ts.Samples = appendMillis(ts.Samples, p.Timestamp, m.value(p))
			}
			req.Timeseries = append(req.Timeseries, ts)
		}
	}
	return req
}

// appendMillis adds a sample at the millisecond of ns. Samples are stored
// with microsecond timestamps but remote write keeps one value per
// millisecond per series, so a sample landing in the millisecond of the
// previous one replaces it.
func appendMillis(samples []prompb.Sample, ns int64, v float64) []prompb.Sample {
	ms := ns / int64(time.Millisecond)
	if n := len(samples); n > 0 && samples[n-1].Timestamp == ms {
		samples[n-1].Value = v
		return samples
	}
	return append(samples, prompb.Sample{Value: v, Timestamp: ms})
}
