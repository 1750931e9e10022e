package agewatch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// csvHeader is the header row written to new CSV sinks.
var csvHeader = []string{"timestamp", "CPU", "Mem", "Disk"}

// CSVSink appends samples to a CSV file.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	closed bool
}

// OpenCSVSink opens path for appending. The header row is written only
// when the file is new or empty; an existing header must name the
// timestamp, CPU, Mem and Disk columns.
func OpenCSVSink(path string) (*CSVSink, error) {
	return openCSVSink(path, os.O_APPEND)
}

// CreateCSVSink truncates path and writes a fresh header, so the file only
// holds the samples of the run that is about to start.
func CreateCSVSink(path string) (*CSVSink, error) {
	return openCSVSink(path, os.O_TRUNC)
}

func openCSVSink(path string, mode int) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, mode|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat sink: %w", err)
	}

	s := &CSVSink{path: path, f: f}
	if info.Size() == 0 {
		if err := s.writeRecord(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
		return s, nil
	}

	if err := checkCSVHeader(path); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the file path of the sink.
func (s *CSVSink) Path() string {
	return s.path
}

// Append writes one row. The row is encoded in memory first and handed to
// the file in a single write so an interrupted sampler never leaves half a row.
func (s *CSVSink) Append(smp Sample) error {
	return s.writeRecord([]string{
		formatTimestamp(smp.Timestamp),
		formatPercent(smp.CPU),
		formatPercent(smp.Mem),
		formatPercent(smp.Disk),
	})
}

func (s *CSVSink) writeRecord(record []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink is closed")
	}
	if _, err := s.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write sink %s: %w", s.path, err)
	}
	return nil
}

// Close closes the file. Calling Close more than once is a no-op.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// LoadCSV reads a CSV sink into a Series.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newDataError(DataErrorTypeNotFound, "sink does not exist", path, 0, err)
		}
		return nil, newDataError(DataErrorTypeUnknown, "cannot open sink", path, 0, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, newDataError(DataErrorTypeEmpty, "sink is empty", path, 0, nil)
	}
	if err != nil {
		return nil, newDataError(DataErrorTypeMalformed, "cannot read header", path, 0, err)
	}
	cols, derr := csvColumns(header)
	if derr != nil {
		derr.Path = path
		return nil, derr
	}

	series := &Series{Path: path}
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, newDataError(DataErrorTypeMalformed, "cannot parse row", path, row, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		smp, perr := parseCSVRecord(record, cols)
		if perr != nil {
			return nil, newDataError(DataErrorTypeMalformed, "cannot parse row", path, row, perr)
		}
		series.Samples = append(series.Samples, smp)
	}

	if err := series.Validate(1); err != nil {
		return nil, err
	}
	return series, nil
}

type csvColumnIndex struct {
	ts, cpu, mem, disk int
}

func csvColumns(header []string) (csvColumnIndex, *DataError) {
	idx := csvColumnIndex{ts: -1, cpu: -1, mem: -1, disk: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "timestamp", "time", "ts":
			idx.ts = i
		case "cpu":
			idx.cpu = i
		case "mem", "memory":
			idx.mem = i
		case "disk":
			idx.disk = i
		}
	}
	var missing []string
	if idx.ts < 0 {
		missing = append(missing, "timestamp")
	}
	if idx.cpu < 0 {
		missing = append(missing, string(ResourceCPU))
	}
	if idx.mem < 0 {
		missing = append(missing, string(ResourceMem))
	}
	if idx.disk < 0 {
		missing = append(missing, string(ResourceDisk))
	}
	if len(missing) > 0 {
		return idx, newDataError(DataErrorTypeMissingColumn,
			"header is missing "+strings.Join(missing, ", "), "", 0, nil)
	}
	return idx, nil
}

func checkCSVHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return newDataError(DataErrorTypeMalformed, "cannot read header", path, 0, err)
	}
	if _, derr := csvColumns(header); derr != nil {
		derr.Path = path
		return derr
	}
	return nil
}

func parseCSVRecord(record []string, cols csvColumnIndex) (Sample, error) {
	field := func(i int) (string, error) {
		if i >= len(record) {
			return "", fmt.Errorf("row has %d fields, need %d", len(record), i+1)
		}
		return strings.TrimSpace(record[i]), nil
	}

	raw, err := field(cols.ts)
	if err != nil {
		return Sample{}, err
	}
	ts, err := parseTimestamp(raw)
	if err != nil {
		return Sample{}, err
	}

	smp := Sample{Timestamp: ts}
	for _, c := range []struct {
		idx int
		dst *float64
		res Resource
	}{
		{cols.cpu, &smp.CPU, ResourceCPU},
		{cols.mem, &smp.Mem, ResourceMem},
		{cols.disk, &smp.Disk, ResourceDisk},
	} {
		raw, err := field(c.idx)
		if err != nil {
			return Sample{}, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%s: %w", c.res, err)
		}
		*c.dst = v
	}
	return smp, nil
}

// formatTimestamp renders Unix nanoseconds as decimal seconds with
// microsecond precision.
func formatTimestamp(ns int64) string {
	sec := ns / int64(time.Second)
	frac := ns % int64(time.Second)
	if frac < 0 {
		sec--
		frac += int64(time.Second)
	}
	return fmt.Sprintf("%d.%06d", sec, frac/int64(time.Microsecond))
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// parseTimestamp accepts decimal Unix seconds, RFC 3339 and
// "2006-01-02 15:04:05" wall-clock timestamps.
func parseTimestamp(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("empty timestamp")
	}
	if whole, frac, ok := strings.Cut(raw, "."); ok && isDigits(whole) && isDigits(frac) {
		sec, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timestamp: %w", err)
		}
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timestamp: %w", err)
		}
		return sec*int64(time.Second) + nanos, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f * float64(time.Second)), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixNano(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", raw)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
