package agewatch

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS samples (
	ts   INTEGER PRIMARY KEY,
	cpu  REAL NOT NULL,
	mem  REAL NOT NULL,
	disk REAL NOT NULL
)`

// SQLiteSink appends samples to a SQLite database so the run can be
// inspected with standard SQLite tools.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
	mu     sync.Mutex
	closed bool
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
}

// OpenSQLiteSink opens or creates the database at path.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite sink: %w", err)
	}
	// a single writer keeps inserts ordered
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	insert, err := db.Prepare(`INSERT INTO samples (ts, cpu, mem, disk) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	return &SQLiteSink{db: db, insert: insert, path: path}, nil
}

// CreateSQLiteSink opens the database at path and deletes every stored
// sample, so it only holds the run that is about to start.
func CreateSQLiteSink(path string) (*SQLiteSink, error) {
	s, err := OpenSQLiteSink(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM samples`); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to reset samples: %w", err)
	}
	return s, nil
}

// Append inserts one sample. Each insert is its own transaction.
func (s *SQLiteSink) Append(smp Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink is closed")
	}
	if _, err := s.insert.Exec(smp.Timestamp, smp.CPU, smp.Mem, smp.Disk); err != nil {
		return fmt.Errorf("insert sample into %s: %w", s.path, err)
	}
	return nil
}

// Close releases the database handle. Calling Close more than once is a no-op.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.insert.Close()
	return s.db.Close()
}

// LoadSQLite reads every sample from a SQLite sink in timestamp order.
func LoadSQLite(path string) (*Series, error) {
	// sql.Open would silently create a missing database
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newDataError(DataErrorTypeNotFound, "sink does not exist", path, 0, err)
		}
		return nil, newDataError(DataErrorTypeUnknown, "cannot stat sink", path, 0, err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, newDataError(DataErrorTypeUnknown, "cannot open sink", path, 0, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT ts, cpu, mem, disk FROM samples ORDER BY ts`)
	if err != nil {
		return nil, newDataError(DataErrorTypeMalformed, "cannot query samples", path, 0, err)
	}
	defer func() { _ = rows.Close() }()

	series := &Series{Path: path}
	row := 0
	for rows.Next() {
		row++
		var smp Sample
		if err := rows.Scan(&smp.Timestamp, &smp.CPU, &smp.Mem, &smp.Disk); err != nil {
			return nil, newDataError(DataErrorTypeMalformed, "cannot scan row", path, row, err)
		}
		series.Samples = append(series.Samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, newDataError(DataErrorTypeMalformed, "cannot read samples", path, row, err)
	}

	if err := series.Validate(1); err != nil {
		return nil, err
	}
	return series, nil
}
