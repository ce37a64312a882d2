// Package runlog writes the progress lines and the append-only record log of
// a run.
package runlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"contactnet/internal/errors"
	"contactnet/internal/scoring"
)

// Logger mirrors progress lines to an output stream and <dir>/<name>.log, and
// appends records to <dir>/<name>.dat. Files are opened for every write and
// closed before the write returns.
type Logger struct {
	mu     sync.Mutex
	dir    string
	name   string
	out    io.Writer
	logger *zap.Logger
}

func Open(dir, name string, out io.Writer, logger *zap.Logger) (*Logger, error) {
	if name == "" {
		return nil, errors.Configuration("run log name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapConfiguration(err, "create output directory %s", dir)
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{dir: dir, name: name, out: out, logger: logger}, nil
}

// TextPath is the progress log file.
func (l *Logger) TextPath() string {
	return filepath.Join(l.dir, l.name+".log")
}

// RecordPath is the record log file.
func (l *Logger) RecordPath() string {
	return filepath.Join(l.dir, l.name+".dat")
}

// Print writes one progress line.
func (l *Logger) Print(format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := io.WriteString(l.out, line); err != nil {
		return err
	}
	return appendFile(l.TextPath(), []byte(line))
}

// Progress prints the summary line of a score flush followed by one line per
// class.
func (l *Logger) Progress(phase string, step int, rec scoring.Record, ratios []float64) error {
	if err := l.Print("%s", ProgressLine(phase, step, rec.Loss, ratios)); err != nil {
		return err
	}
	for c := 0; c < rec.Classes(); c++ {
		parts := make([]string, 0, len(scoring.MetricNames))
		for _, name := range scoring.MetricNames {
			parts = append(parts, fmt.Sprintf("%s=%.3f", name, rec.Metric(name, c)))
		}
		if err := l.Print("[%d] loss=%.3f, %s", c, rec.ClassLoss[c], strings.Join(parts, ", ")); err != nil {
			return err
		}
	}
	return nil
}

// ProgressLine formats "<phase>> [<step>] loss=<value>, pos_ratios=[<v0>, ...]".
func ProgressLine(phase string, step int, loss float64, ratios []float64) string {
	rs := make([]string, len(ratios))
	for i, r := range ratios {
		rs[i] = fmt.Sprintf("%.4f", r)
	}
	return fmt.Sprintf("%s> [%d] loss=%.4f, pos_ratios=[%s]", phase, step, loss, strings.Join(rs, ", "))
}

// Store appends rec to the record log.
func (l *Logger) Store(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := appendFile(l.RecordPath(), data); err != nil {
		return errors.Wrapf(err, "append record to %s", l.RecordPath())
	}
	l.logger.Debug("stored record",
		zap.Int("global_step", rec.GlobalStep),
		zap.String("step_type", rec.StepType),
		zap.String("checkpoint_id", rec.CheckpointID),
	)
	return nil
}

// Records reads the whole record log. A missing log has no records; an
// unreadable line makes the log inconsistent.
func (l *Logger) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.RecordPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, errors.InconsistentCheckpoint("%s:%d: %v", l.RecordPath(), n, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// Tail returns the last record of the log, which is authoritative for
// resuming. ok is false when the log is missing or empty.
func (l *Logger) Tail() (rec Record, ok bool, err error) {
	records, err := l.Records()
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[len(records)-1], true, nil
}

func appendFile(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
