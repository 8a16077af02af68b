package config

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch re-loads the config file whenever it changes on disk and calls
// onChange with the freshly validated config. Invalid edits are logged and
// ignored; the previous config stays in effect. Watch blocks until ctx is
// cancelled.
//
// The watch is placed on the parent directory because editors typically
// rename-replace the file, which drops a watch set on the file itself.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	lastHash := hashFile(path)

	// Debounce: editors fire several events per save.
	var pending <-chan time.Time
	base := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			h := hashFile(path)
			if h == lastHash {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Msg("config reload rejected")
				continue
			}
			lastHash = h
			log.Info().Str("path", path).Msg("config reloaded")
			onChange(cfg)
		}
	}
}

func hashFile(path string) uint64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
