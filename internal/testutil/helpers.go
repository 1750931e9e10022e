// Package testutil provides shared test helpers for agewatch packages.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TempSinkPath returns a sink path named name inside a temporary directory
// that is removed when the test completes.
func TempSinkPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadLines returns the non-empty lines of path.
func ReadLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// MustExist asserts that the file exists and is not empty.
func MustExist(t *testing.T, path string) {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
	if fi.Size() == 0 {
		t.Fatalf("expected %s to be non-empty", path)
	}
}

// MustNotExist asserts that the file does not exist.
func MustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	}
}

// UsageCSV returns a sink in CSV form with n rows spaced step apart.
// CPU oscillates, memory grows slowly and disk is nearly flat, which is
// what an aging process typically looks like.
func UsageCSV(n int, start time.Time, step time.Duration) string {
	var b strings.Builder
	b.WriteString("timestamp,CPU,Mem,Disk\n")
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * step)
		cpu := 40 + 20*math.Sin(2*math.Pi*float64(i)/12)
		mem := math.Min(30+0.5*float64(i), 95)
		disk := 55 + 0.01*float64(i)
		fmt.Fprintf(&b, "%d.%06d,%.4f,%.4f,%.4f\n",
			ts.Unix(), ts.Nanosecond()/1000, cpu, mem, disk)
	}
	return b.String()
}
