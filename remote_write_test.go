package agewatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// writeReceiver decodes remote write requests sent to it.
type writeReceiver struct {
	mu       sync.Mutex
	requests []*prompb.WriteRequest
	headers  []http.Header
	statuses []int
	calls    atomic.Int32
}

func (rcv *writeReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(rcv.calls.Add(1))
	rcv.mu.Lock()
	defer rcv.mu.Unlock()

	if n <= len(rcv.statuses) && rcv.statuses[n-1] != http.StatusOK {
		w.WriteHeader(rcv.statuses[n-1])
		_, _ = w.Write([]byte("try later"))
		return
	}

	compressed, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rcv.requests = append(rcv.requests, &req)
	rcv.headers = append(rcv.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func (rcv *writeReceiver) received() ([]*prompb.WriteRequest, []http.Header) {
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	return rcv.requests, rcv.headers
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func labelValue(ts prompb.TimeSeries, name string) string {
	for _, l := range ts.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestNewRemoteWriter_RequiresURL(t *testing.T) {
	if _, err := NewRemoteWriter(RemoteWriteConfig{}, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestRemoteWriter_Push(t *testing.T) {
	rcv := &writeReceiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	w, err := NewRemoteWriter(RemoteWriteConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Scope-OrgID": "tenant-a"},
		Retry:   fastRetry(),
	}, nil)
	if err != nil {
		t.Fatalf("NewRemoteWriter: %v", err)
	}

	series := testSeries(4)
	forecast := &Forecast{
		Model: ModelMovingAverage,
		Resources: []ResourceForecast{{
			Resource: ResourceCPU,
			Predictions: []ForecastPoint{
				{Timestamp: 5 * int64(time.Second), Value: 50, LowerBound: 40, UpperBound: 60},
				{Timestamp: 6 * int64(time.Second), Value: 51, LowerBound: 39, UpperBound: 63},
			},
		}},
	}

	if err := w.Push(context.Background(), "session-1", series, forecast); err != nil {
		t.Fatalf("Push: %v", err)
	}

	requests, headers := rcv.received()
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	h := headers[0]
	for k, want := range map[string]string{
		"Content-Type":                      "application/x-protobuf",
		"Content-Encoding":                  "snappy",
		"X-Prometheus-Remote-Write-Version": "0.1.0",
		"X-Scope-OrgID":                     "tenant-a",
	} {
		if got := h.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}

	req := requests[0]
	// three usage series plus value, lower and upper for one target
	if len(req.Timeseries) != 6 {
		t.Fatalf("expected 6 series, got %d", len(req.Timeseries))
	}
	usage := req.Timeseries[0]
	if labelValue(usage, "__name__") != metricUsage || labelValue(usage, "job") != "agewatch" ||
		labelValue(usage, "session") != "session-1" || labelValue(usage, "resource") != "CPU" {
		t.Errorf("unexpected usage labels %v", usage.Labels)
	}
	if len(usage.Samples) != 4 {
		t.Errorf("expected 4 usage samples, got %d", len(usage.Samples))
	}
	if want := series.Samples[0].Timestamp / int64(time.Millisecond); usage.Samples[0].Timestamp != want {
		t.Errorf("timestamp = %d, want %d ms", usage.Samples[0].Timestamp, want)
	}

	upper := req.Timeseries[5]
	if labelValue(upper, "__name__") != metricForecastUpper || labelValue(upper, "model") != "ma" {
		t.Errorf("unexpected forecast labels %v", upper.Labels)
	}
	if upper.Samples[1].Value != 63 || upper.Samples[1].Timestamp != 6000 {
		t.Errorf("unexpected upper sample %+v", upper.Samples[1])
	}
	for _, ts := range req.Timeseries {
		for i := 1; i < len(ts.Labels); i++ {
			if ts.Labels[i-1].Name >= ts.Labels[i].Name {
				t.Errorf("labels not sorted: %v", ts.Labels)
			}
		}
	}
}

func TestRemoteWriter_RetriesServerErrors(t *testing.T) {
	rcv := &writeReceiver{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	w, err := NewRemoteWriter(RemoteWriteConfig{URL: srv.URL, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewRemoteWriter: %v", err)
	}
	if err := w.Push(context.Background(), "s", testSeries(2), nil); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rcv.calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", rcv.calls.Load())
	}
}

func TestRemoteWriter_ClientErrorNotRetried(t *testing.T) {
	rcv := &writeReceiver{statuses: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	w, err := NewRemoteWriter(RemoteWriteConfig{URL: srv.URL, Retry: fastRetry()}, nil)
	if err != nil {
		t.Fatalf("NewRemoteWriter: %v", err)
	}
	err = w.Push(context.Background(), "s", testSeries(2), nil)
	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest || se.Body != "try later" {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if rcv.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", rcv.calls.Load())
	}
}

func TestRemoteWriter_NothingToSend(t *testing.T) {
	calls := 0
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("unexpected request")
	})
	w, err := NewRemoteWriter(RemoteWriteConfig{URL: "http://unused", HTTPClient: client}, nil)
	if err != nil {
		t.Fatalf("NewRemoteWriter: %v", err)
	}
	if err := w.Push(context.Background(), "s", nil, nil); err != nil {
		t.Errorf("Push: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no request, got %d", calls)
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestRemoteWriter_RetryAfter(t *testing.T) {
	calls := 0
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		h := http.Header{}
		h.Set("Retry-After", "7")
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader("slow down")),
		}, nil
	})
	w, err := NewRemoteWriter(RemoteWriteConfig{
		URL:        "http://prom/api/v1/write",
		HTTPClient: client,
		Retry:      RetryConfig{MaxAttempts: 1},
	}, nil)
	if err != nil {
		t.Fatalf("NewRemoteWriter: %v", err)
	}

	err = w.Push(context.Background(), "s", testSeries(2), nil)
	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable || se.Wait != 7*time.Second {
		t.Fatalf("expected 503 with a 7s hint, got %#v", err)
	}
	if class, hint := classifyFailure(err); class != failThrottled || hint != 7*time.Second {
		t.Errorf("classifyFailure = %v, %s; want throttled, 7s", class, hint)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBuildWriteRequest_OneSamplePerMillisecond(t *testing.T) {
	const t0 = int64(1_700_000_000_000) * int64(time.Millisecond)
	series := &Series{Samples: []Sample{
		{Timestamp: t0, CPU: 10, Mem: 20, Disk: 30},
		{Timestamp: t0 + int64(time.Microsecond), CPU: 11, Mem: 21, Disk: 31},
		{Timestamp: t0 + 2*int64(time.Millisecond), CPU: 12, Mem: 22, Disk: 32},
	}}

	req := buildWriteRequest("agewatch", "s", series, nil)
	if len(req.Timeseries) != len(AllResources) {
		t.Fatalf("expected %d series, got %d", len(AllResources), len(req.Timeseries))
	}
	got := req.Timeseries[0].Samples
	want := []prompb.Sample{
		{Value: 11, Timestamp: 1_700_000_000_000},
		{Value: 12, Timestamp: 1_700_000_000_002},
	}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Value != want[i].Value || got[i].Timestamp != want[i].Timestamp {
			t.Errorf("sample %d = %v@%d, want %v@%d", i, got[i].Value, got[i].Timestamp, want[i].Value, want[i].Timestamp)
		}
	}
}
