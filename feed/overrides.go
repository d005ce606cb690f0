package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileOverrides pins prices for selected symbols from a JSON file of the form
// {"AAPL": 231.4, "MSFT": 505.1}. The file is re-read whenever it changes on
// disk, so operators can steer mock prices without restarting the server.
type FileOverrides struct {
	path string
	log  *slog.Logger

	mu     sync.RWMutex
	prices map[string]float64
}

// NewFileOverrides loads path and returns the override source. A missing file
// is not an error; it simply yields no overrides until it appears.
func NewFileOverrides(path string, log *slog.Logger) (*FileOverrides, error) {
	if log == nil {
		log = slog.Default()
	}
	ov := &FileOverrides{path: path, log: log, prices: map[string]float64{}}
	if err := ov.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return ov, nil
}

// Price returns the pinned price for a symbol, if any.
func (ov *FileOverrides) Price(symbol string) (float64, bool) {
	ov.mu.RLock()
	defer ov.mu.RUnlock()
	v, ok := ov.prices[strings.ToUpper(symbol)]
	return v, ok
}

func (ov *FileOverrides) reload() error {
	b, err := os.ReadFile(ov.path)
	if err != nil {
		return err
	}
	var raw map[string]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse overrides file %s: %w", ov.path, err)
	}
	up := make(map[string]float64, len(raw))
	for sym, px := range raw {
		up[strings.ToUpper(sym)] = px
	}
	ov.mu.Lock()
	ov.prices = up
	ov.mu.Unlock()
	return nil
}

// Watch re-reads the file on every filesystem change until ctx ends. Editors
// that replace the file (rename+create) are handled by watching the parent
// directory.
func (ov *FileOverrides) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify init: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(ov.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(ov.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := ov.reload(); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				ov.log.WarnContext(ctx, "feed.overrides.reload_fail", slog.String("err", err.Error()))
				continue
			}
			ov.log.InfoContext(ctx, "feed.overrides.reloaded", slog.String("path", ov.path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ov.log.WarnContext(ctx, "feed.overrides.watch_err", slog.String("err", err.Error()))
		}
	}
}
