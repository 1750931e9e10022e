package agewatch

import (
	"fmt"
	"math"
	"time"
)

// Sample is one timestamped observation of every monitored resource.
// Values are utilization percentages in [0, 100].
type Sample struct {
	// Timestamp is the observation time in Unix nanoseconds.
	Timestamp int64
	CPU       float64
	Mem       float64
	Disk      float64
}

// Time returns the sample timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.Unix(0, s.Timestamp)
}

// Value returns the utilization recorded for r.
func (s Sample) Value(r Resource) float64 {
	switch r {
	case ResourceCPU:
		return s.CPU
	case ResourceMem:
		return s.Mem
	case ResourceDisk:
		return s.Disk
	}
	return math.NaN()
}

// Series is the ordered sequence of samples recorded for one run.
// Insertion order is temporal order.
type Series struct {
	// Path is the sink the series was loaded from, if any.
	Path    string
	Samples []Sample
}

// Len returns the number of samples.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// Timestamps returns the sample timestamps in Unix nanoseconds.
func (s *Series) Timestamps() []int64 {
	out := make([]int64, len(s.Samples))
	for i, smp := range s.Samples {
		out[i] = smp.Timestamp
	}
	return out
}

// Values returns the column for r.
func (s *Series) Values(r Resource) []float64 {
	out := make([]float64, len(s.Samples))
	for i, smp := range s.Samples {
		out[i] = smp.Value(r)
	}
	return out
}

// Data returns the column for r in the shape the smoothing code consumes.
func (s *Series) Data(r Resource) TimeSeriesData {
	return TimeSeriesData{Timestamps: s.Timestamps(), Values: s.Values(r)}
}

// Validate checks the series invariants: at least minSamples samples,
// strictly increasing timestamps and finite percentages in [0, 100].
// Gaps are allowed and left as they are.
func (s *Series) Validate(minSamples int) error {
	path := ""
	if s != nil {
		path = s.Path
	}
	if s.Len() == 0 {
		return newDataError(DataErrorTypeEmpty, "series has no samples", path, 0, nil)
	}
	if s.Len() < minSamples {
		return newDataError(DataErrorTypeEmpty,
			fmt.Sprintf("series has %d samples, need at least %d", s.Len(), minSamples), path, 0, nil)
	}
	for i, smp := range s.Samples {
		if i > 0 && smp.Timestamp <= s.Samples[i-1].Timestamp {
			return newDataError(DataErrorTypeOrdering, "timestamps must be strictly increasing", path, i+1, nil)
		}
		for _, r := range AllResources {
			v := smp.Value(r)
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
				return newDataError(DataErrorTypeMalformed,
					fmt.Sprintf("%s value %v outside [0, 100]", r, v), path, i+1, nil)
			}
		}
	}
	return nil
}
