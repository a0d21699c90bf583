// Package filestore implements the durable store: JSON documents,
// append-only JSONL streams, and CSV files under a single data
// directory, guarded by per-file advisory locks so the gateway, vault,
// and background jobs can share state across processes.
package filestore

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("filestore: not found")

// Store reads and writes files beneath a base directory. All paths
// passed to its methods are relative to that directory.
type Store struct {
	base string
	log  zerolog.Logger
}

// New creates a Store rooted at base, creating the directory if needed.
func New(base string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{base: base, log: log}, nil
}

// Base returns the absolute base directory.
func (s *Store) Base() string { return s.base }

// Path resolves rel against the base directory.
func (s *Store) Path(rel string) string { return filepath.Join(s.base, rel) }

func (s *Store) lock(rel string) (*flock.Flock, error) {
	p := s.Path(rel) + ".lock"
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(p)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", rel, err)
	}
	return fl, nil
}

// ReadJSON decodes the document at rel into v. Returns ErrNotFound if
// the file does not exist.
func (s *Store) ReadJSON(rel string, v any) error {
	fl, err := s.lock(rel)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	return s.readJSONLocked(rel, v)
}

func (s *Store) readJSONLocked(rel string, v any) error {
	data, err := os.ReadFile(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}
	return nil
}

// WriteJSON atomically replaces the document at rel with v, via a temp
// file, fsync, and rename.
func (s *Store) WriteJSON(rel string, v any) error {
	fl, err := s.lock(rel)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	return s.writeJSONLocked(rel, v)
}

func (s *Store) writeJSONLocked(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return s.writeAtomic(rel, append(data, '\n'))
}

func (s *Store) writeAtomic(rel string, data []byte) error {
	dst := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Update reads the document at rel, applies fn, and writes the result
// back, all under the file lock. The doc passed to fn is the zero value
// when the file does not exist yet.
func (s *Store) Update(rel string, v any, fn func() error) error {
	fl, err := s.lock(rel)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	if err := s.readJSONLocked(rel, v); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return s.writeJSONLocked(rel, v)
}

// AppendJSONL appends v as a single JSON line to the stream at rel.
func (s *Store) AppendJSONL(rel string, v any) error {
	fl, err := s.lock(rel)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	dst := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return f.Sync()
}

// ReadJSONL decodes every line of the stream at rel, calling fn with
// the raw line. Corrupt lines are logged and skipped. A missing file
// yields no lines and no error.
func (s *Store) ReadJSONL(rel string, fn func(line json.RawMessage) error) error {
	fl, err := s.lock(rel)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	f, err := os.Open(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			s.log.Warn().Str("file", rel).Int("line", lineNo).Msg("skipping corrupt jsonl line")
			continue
		}
		if err := fn(append(json.RawMessage(nil), raw...)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// WriteCSV atomically writes header plus rows to rel.
func (s *Store) WriteCSV(rel string, header []string, rows [][]string) error {
	fl, err := s.lock(rel)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	var buf []byte
	w := csv.NewWriter(sliceWriter{&buf})
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return s.writeAtomic(rel, buf)
}

// ReadCSV returns the header and rows of the CSV at rel. Returns
// ErrNotFound if the file does not exist.
func (s *Store) ReadCSV(rel string) (header []string, rows [][]string, err error) {
	fl, err := s.lock(rel)
	if err != nil {
		return nil, nil, err
	}
	defer fl.Unlock()

	f, err := os.Open(s.Path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", rel, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

// Exists reports whether the file at rel exists.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(s.Path(rel))
	return err == nil
}

type sliceWriter struct{ buf *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
