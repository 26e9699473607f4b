// Package cache persists the entity store and train pairs to disk as
// gzip-compressed JSON, per spec.md Section 4.9. The cache is advisory: a
// cold start with no cache files must still converge to correct output
// within one ingestion cycle.
package cache

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Save gzip-compresses v as JSON and writes it atomically to
// <dir>/<name>.json.gz: write to a uniquely named temp file, then rename.
func Save(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp-%s.json.gz", uuid.NewString()))
	finalPath := filepath.Join(dir, name+".json.gz")

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(v); err != nil {
		gz.Close()
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache: encode %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache: close gzip writer for %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: close temp file for %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: rename into place for %s: %w", name, err)
	}
	return nil
}

// Restore decodes <dir>/<name>.json.gz into v. A missing file is not an
// error: it silently leaves v untouched, matching spec.md's "treat missing
// cache as empty" policy.
func Restore(dir, name string, v any) error {
	path := filepath.Join(dir, name+".json.gz")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("cache: gzip reader for %s: %w", path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("cache: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cache: decode %s: %w", path, err)
	}
	return nil
}
