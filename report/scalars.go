// Package report writes the side outputs of a run: the per-epoch scalar log,
// the confusion heat map, loss curves, the embedding log and the terminal summary.
package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ScalarsFile is the name of the scalar log inside a run directory.
const ScalarsFile = "scalars.csv"

// DefaultRunDir returns runs/<date>_<hostname>, unique per run start.
func DefaultRunDir() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return filepath.Join("runs", time.Now().Format("Jan02_15-04-05")+"_"+host)
}

// ScalarWriter appends scalar metrics, keyed by run directory, to a CSV file.
type ScalarWriter struct {
	dir string
	f   *os.File
	w   *csv.Writer
}

// NewScalarWriter creates dir (DefaultRunDir() if empty) and opens its scalar log.
func NewScalarWriter(dir string) (*ScalarWriter, error) {
	if dir == "" {
		dir = DefaultRunDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", dir)
	}
	path := filepath.Join(dir, ScalarsFile)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	sw := &ScalarWriter{dir: dir, f: f, w: csv.NewWriter(f)}
	if os.IsNotExist(statErr) {
		if err := sw.w.Write([]string{"wall_time", "tag", "name", "step", "value"}); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "write header")
		}
		sw.w.Flush()
	}
	return sw, nil
}

// Dir returns the run directory.
func (s *ScalarWriter) Dir() string { return s.dir }

// AddScalars records several named values of the same tag at step.
func (s *ScalarWriter) AddScalars(tag string, values map[string]float64, step int) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	wall := strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 6, 64)
	for _, name := range names {
		row := []string{wall, tag, name, strconv.Itoa(step), strconv.FormatFloat(values[name], 'g', -1, 64)}
		if err := s.w.Write(row); err != nil {
			return errors.Wrapf(err, "write scalar %s/%s", tag, name)
		}
	}
	s.w.Flush()
	return errors.Wrap(s.w.Error(), "flush scalars")
}

// Close flushes and closes the log.
func (s *ScalarWriter) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return errors.Wrap(err, "flush scalars")
	}
	return errors.Wrap(s.f.Close(), "close scalars")
}
