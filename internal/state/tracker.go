// Package state tracks which documents in a folder changed since the last
// successful indexing run.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// Tracker computes, persists and diffs folder fingerprints.
type Tracker struct {
	logger *zap.Logger
}

// NewTracker creates a Tracker. A nil logger is replaced with a no-op logger.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger}
}

// Compute records the modification time of every regular file directly in
// folder. When exts is non-empty only files with one of those extensions
// (case-insensitive, leading dot included) are recorded.
func (t *Tracker) Compute(folder string, exts ...string) (rag.FolderFingerprint, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: reading folder %s: %v", rag.ErrIO, folder, err)
	}

	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}

	fp := make(rag.FolderFingerprint, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: stat %s: %v", rag.ErrIO, name, err)
		}
		fp[name] = float64(info.ModTime().UnixNano()) / 1e9
	}

	return fp, nil
}

// LoadPrevious reads a persisted fingerprint. A missing or unparsable file
// yields an empty fingerprint, which callers treat as a first run.
func (t *Tracker) LoadPrevious(path string) rag.FolderFingerprint {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("reading fingerprint failed, treating as first run",
				zap.String("path", path), zap.Error(err))
		}
		return rag.FolderFingerprint{}
	}

	var fp rag.FolderFingerprint
	if err := json.Unmarshal(data, &fp); err != nil || fp == nil {
		t.logger.Warn("fingerprint unparsable, treating as first run",
			zap.String("path", path), zap.Error(err))
		return rag.FolderFingerprint{}
	}
	return fp
}

// Save atomically persists fp to path by writing a sibling temp file and
// renaming it into place.
func (t *Tracker) Save(path string, fp rag.FolderFingerprint) error {
	if fp == nil {
		fp = rag.FolderFingerprint{}
	}
	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding fingerprint: %v", rag.ErrIO, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", rag.ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", rag.ErrIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: writing fingerprint: %v", rag.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: syncing fingerprint: %v", rag.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: closing fingerprint: %v", rag.ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: replacing fingerprint: %v", rag.ErrIO, err)
	}

	t.logger.Debug("fingerprint saved", zap.String("path", path), zap.Int("files", len(fp)))
	return nil
}

// Diff returns the sorted names of files that are new in current or whose
// timestamp differs from previous. Files missing from current are not
// reported.
func Diff(current, previous rag.FolderFingerprint) []string {
	changed := make([]string, 0)
	for name, mtime := range current {
		prev, ok := previous[name]
		if !ok || prev != mtime {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
