// Package corpus loads the seed corpus a worker starts from and keeps
// picking up seeds dropped into the seed directory while it runs.
package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"corrfuzz/internal/utils"

	"go.uber.org/zap"
)

var ErrNoSeeds = errors.New("no seeds found in corpus directory")

// Loader reads seeds from a directory or a .tar.gz bundle. When initialDir is
// set every seed is also copied there, so the worker's output holds the exact
// inputs it started from.
type Loader struct {
	source     string
	initialDir string
	logger     *zap.Logger
}

func NewLoader(source, initialDir string, logger *zap.Logger) *Loader {
	return &Loader{source, initialDir, logger}
}

func (l *Loader) Load() ([][]byte, error) {
	dir := l.source
	if fi, err := os.Stat(l.source); err == nil && !fi.IsDir() && utils.IsTarGz(l.source) {
		unpacked, err := os.MkdirTemp("", "corrfuzz-seeds-")
		if err != nil {
			return nil, fmt.Errorf("failed to create unpack dir: %w", err)
		}
		defer os.RemoveAll(unpacked)
		if err := utils.UnpackTarGz(l.source, unpacked); err != nil {
			return nil, fmt.Errorf("failed to unpack seed bundle: %w", err)
		}
		dir = unpacked
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Error("failed to read corpus folder", zap.String("corpus_folder", dir), zap.Error(err))
		l.logWorkdir()
		return nil, fmt.Errorf("%w: %v", ErrNoSeeds, err)
	}

	if l.initialDir != "" {
		if err := os.MkdirAll(l.initialDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create initial dir: %w", err)
		}
	}

	var seeds [][]byte
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable seed", zap.String("seed", path), zap.Error(err))
			continue
		}
		if l.initialDir != "" {
			if err := utils.CopyFile(path, filepath.Join(l.initialDir, entry.Name())); err != nil {
				l.logger.Warn("failed to copy seed", zap.String("seed", path), zap.Error(err))
			}
		}
		seeds = append(seeds, data)
	}

	if len(seeds) == 0 {
		l.logWorkdir()
		return nil, fmt.Errorf("%w: %s", ErrNoSeeds, l.source)
	}
	l.logger.Info("Loaded seeds", zap.String("corpus_folder", l.source), zap.Int("seed_count", len(seeds)))
	return seeds, nil
}

// logWorkdir lists the working directory, which is usually where a relative
// seed path went wrong.
func (l *Loader) logWorkdir() {
	wd, _ := os.Getwd()
	entries, err := os.ReadDir(".")
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	l.logger.Error("current directory", zap.String("cwd", wd), zap.Strings("entries", names))
}
