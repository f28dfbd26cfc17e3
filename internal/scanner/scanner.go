// Package scanner walks a music directory in the background and hands the
// playable files it finds to the control loop in batches.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/playlist"
)

// BatchSize is how many entries the walker collects before publishing them.
const BatchSize = 64

// Scanner runs at most one directory walk at a time.
type Scanner struct {
	log    zerolog.Logger
	accept func(path string) bool

	running atomic.Bool
	stop    atomic.Bool
	wg      sync.WaitGroup

	mu    sync.Mutex
	batch []playlist.TrackEntry
}

// New returns a scanner that keeps files for which accept returns true.
func New(log zerolog.Logger, accept func(path string) bool) *Scanner {
	return &Scanner{log: log, accept: accept}
}

// Start cancels any running walk and begins a new one at root. Entries the
// previous walk published but nobody consumed are discarded.
func (s *Scanner) Start(root string, recursive bool) error {
	s.Stop()
	s.mu.Lock()
	s.batch = nil
	s.mu.Unlock()

	base, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	info, err := os.Stat(base)
	if err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scanner: %s is not a directory", base)
	}

	s.stop.Store(false)
	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.walk(base, recursive)
	}()
	return nil
}

// Stop cancels the running walk and waits for it to exit. Entries found so
// far stay available to ConsumeBatch.
func (s *Scanner) Stop() {
	s.stop.Store(true)
	s.wg.Wait()
	s.running.Store(false)
}

// Running reports whether a walk is in progress.
func (s *Scanner) Running() bool { return s.running.Load() }

// ConsumeBatch takes every entry published since the last call, or nil.
func (s *Scanner) ConsumeBatch() []playlist.TrackEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batch) == 0 {
		return nil
	}
	out := s.batch
	s.batch = nil
	return out
}

var errStopped = errors.New("scan stopped")

func (s *Scanner) walk(base string, recursive bool) {
	start := time.Now()
	var local []playlist.TrackEntry
	found := 0

	flush := func() {
		if len(local) == 0 {
			return
		}
		s.mu.Lock()
		s.batch = append(s.batch, local...)
		s.mu.Unlock()
		found += len(local)
		local = nil
	}

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if s.stop.Load() {
			return errStopped
		}
		if err != nil {
			s.log.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != base && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.accept(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		local = append(local, playlist.TrackEntry{
			DisplayName: d.Name(),
			Path:        path,
			Size:        uint64(info.Size()),
			Modified:    info.ModTime(),
		})
		if len(local) >= BatchSize {
			flush()
		}
		return nil
	})
	flush()

	ev := s.log.Info()
	if errors.Is(err, errStopped) {
		ev = s.log.Debug()
	} else if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("root", base).Int("tracks", found).Dur("took", time.Since(start)).Msg("scan finished")
}

// Watch calls onChange after playable files under dir are created, removed
// or renamed, coalescing bursts of events. It blocks until ctx is done.
func (s *Scanner) Watch(ctx context.Context, dir string, recursive bool, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("scanner: watch: %w", err)
	}
	defer w.Close()

	if err := s.addWatches(w, dir, recursive); err != nil {
		return err
	}

	const settle = 250 * time.Millisecond
	debounce := time.NewTimer(settle)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if recursive && ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					s.addWatches(w, ev.Name, true)
					debounce.Reset(settle)
					continue
				}
			}
			if !s.accept(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.log.Debug().Str("path", ev.Name).Stringer("op", ev.Op).Msg("change detected")
				debounce.Reset(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("watch error")
		case <-debounce.C:
			onChange()
		}
	}
}

func (s *Scanner) addWatches(w *fsnotify.Watcher, dir string, recursive bool) error {
	if !recursive {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("scanner: watch %s: %w", dir, err)
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("scanner: watch %s: %w", path, err)
		}
		return nil
	})
}
