// Package logger records decoded J1939 parameters to CSV files.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/agdash/internal/frame"
)

// Logger writes one CSV row per decoded parameter with automatic rotation.
// Each PGN is throttled independently so a fast engine PGN does not starve
// the slower implement and fluid PGNs.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	now      func() time.Time

	file   *os.File
	writer *csv.Writer
	lastTs map[string]time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000
)

var csvHeader = []string{
	"timestamp", "pgn", "label", "source", "priority", "data",
	"param", "value", "unit",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/agdash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		now:      time.Now,
		lastTs:   make(map[string]time.Time),
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes rec if its PGN has not been logged within the interval. The
// throttle runs on the logger's clock; rows carry rec.Timestamp.
// Frames without a decoder are not logged.
func (l *Logger) Record(rec frame.Record) {
	if rec.Decoded == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := l.now()
	if now.Sub(l.lastTs[rec.PGN]) < l.interval {
		return
	}
	l.lastTs[rec.PGN] = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	for _, row := range buildRows(rec) {
		if err := l.writer.Write(row); err != nil {
			log.Printf("[logger] write failed: %v", err)
			return
		}
		l.rows++
	}
	l.writer.Flush()
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("agdash_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

// buildRows returns one row per decoded parameter, sorted by name, stamped
// with the frame's arrival time.
func buildRows(rec frame.Record) [][]string {
	ts := time.UnixMilli(rec.Timestamp).UTC()
	names := make([]string, 0, len(rec.Decoded.Values))
	for name := range rec.Decoded.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	data := fmt.Sprintf("% X", []byte(rec.Data))
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		v := rec.Decoded.Values[name]
		rows = append(rows, []string{
			ts.Format(time.RFC3339Nano),
			rec.PGN,
			rec.Decoded.Name,
			strconv.Itoa(int(rec.Source)),
			strconv.Itoa(int(rec.Priority)),
			data,
			name,
			strconv.FormatFloat(v.Value, 'f', 2, 64),
			v.Unit,
		})
	}
	return rows
}
