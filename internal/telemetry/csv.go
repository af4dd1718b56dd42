package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CSVSink writes one file per stream, <dir>/<prefix>_<STREAM>.csv, with the
// header taken from the first record.
type CSVSink struct {
	dir    string
	prefix string
	files  map[string]*csvFile
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func NewCSVSink(dir, prefix string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &CSVSink{dir: dir, prefix: prefix, files: make(map[string]*csvFile)}, nil
}

// Path is where a stream's rows go.
func (s *CSVSink) Path(stream string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", s.prefix, stream))
}

func (s *CSVSink) Write(stream string, rec Record) error {
	cf, ok := s.files[stream]
	if !ok {
		f, err := os.Create(s.Path(stream))
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		cf = &csvFile{f: f, w: csv.NewWriter(f)}
		s.files[stream] = cf
		if err := cf.w.Write(rec.Columns()); err != nil {
			return fmt.Errorf("telemetry: write %s header: %w", stream, err)
		}
	}
	if err := cf.w.Write(rec.Values()); err != nil {
		return fmt.Errorf("telemetry: write %s row: %w", stream, err)
	}
	return nil
}

func (s *CSVSink) Flush() error {
	var errs []error
	for _, cf := range s.files {
		cf.w.Flush()
		if err := cf.w.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *CSVSink) Close() error {
	errs := []error{s.Flush()}
	for stream, cf := range s.files {
		errs = append(errs, cf.f.Close())
		delete(s.files, stream)
	}
	return errors.Join(errs...)
}
