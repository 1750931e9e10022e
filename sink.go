package agewatch

import (
	"path/filepath"
	"strings"
)

// SampleSink is the append-only destination the sampler writes to.
// Each Append is one complete, independent write.
type SampleSink interface {
	Append(s Sample) error
	Close() error
}

// SinkFormat identifies the on-disk format of a sink.
type SinkFormat int

const (
	// SinkFormatCSV is the default tabular text format.
	SinkFormatCSV SinkFormat = iota
	// SinkFormatSQLite stores samples in a SQLite table.
	SinkFormatSQLite
)

func (f SinkFormat) String() string {
	if f == SinkFormatSQLite {
		return "sqlite"
	}
	return "csv"
}

// SinkFormatForPath picks the format from the file extension.
// ".db", ".sqlite" and ".sqlite3" are SQLite; everything else is CSV.
func SinkFormatForPath(path string) SinkFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return SinkFormatSQLite
	}
	return SinkFormatCSV
}

// OpenSink opens the sink at path for appending, creating it when missing.
func OpenSink(path string) (SampleSink, error) {
	if SinkFormatForPath(path) == SinkFormatSQLite {
		return OpenSQLiteSink(path)
	}
	return OpenCSVSink(path)
}

// CreateSink opens the sink at path and discards any samples it already
// holds. A monitoring session starts from a fresh sink, so the series loaded
// after it contains that session's samples only.
func CreateSink(path string) (SampleSink, error) {
	if SinkFormatForPath(path) == SinkFormatSQLite {
		return CreateSQLiteSink(path)
	}
	return CreateCSVSink(path)
}

// LoadSeries reads the whole sink at path into a Series.
// A missing file, an empty sink or a malformed row yields a DataError.
func LoadSeries(path string) (*Series, error) {
	if SinkFormatForPath(path) == SinkFormatSQLite {
		return LoadSQLite(path)
	}
	return LoadCSV(path)
}

// PlotPathFor derives the exported image path from the sink path by
// replacing its extension with ".png".
func PlotPathFor(sinkPath string) string {
	ext := filepath.Ext(sinkPath)
	return strings.TrimSuffix(sinkPath, ext) + ".png"
}
