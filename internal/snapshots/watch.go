package snapshots

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// minPollInterval is the floor between full status computations. Between
// polls the watcher's dirty flag answers from cache.
const minPollInterval = 5 * time.Second

// Status reports how the working tree relates to the latest snapshot.
type Status struct {
	Clean    bool      `json:"clean"`
	Baseline string    `json:"baseline"`
	Changes  []Change  `json:"changes,omitempty"`
	PolledAt time.Time `json:"polled_at"`
}

// watcher tracks filesystem events to decide whether a cached status is
// still trustworthy.
type watcher struct {
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts filesystem event tracking for the workspace. Events only
// mark the tree dirty; the actual diff is computed lazily by Status.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &watcher{fsw: fsw, cancel: cancel}
	s.watch = w

	if err := s.addWatchTree(fsw); err != nil {
		s.logger.Warn("initial snapshot watch setup incomplete", "error", err)
	}

	w.wg.Add(1)
	go s.watchLoop(watchCtx, w)
	return nil
}

// Close stops the watcher. It is safe to call without a prior Watch.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watch
	s.watch = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (s *Store) addWatchTree(fsw *fsnotify.Watcher) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path == s.shadow || strings.HasPrefix(path, s.shadow+string(filepath.Separator)) {
			return filepath.SkipDir
		}
		if rel, relErr := filepath.Rel(s.root, path); relErr == nil {
			if _, skip := s.ignore[rel]; skip {
				return filepath.SkipDir
			}
		}
		return fsw.Add(path)
	})
}

func (s *Store) watchLoop(ctx context.Context, w *watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if s.insideShadow(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = w.fsw.Add(event.Name)
					}
				}
				s.dirty.Store(true)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("snapshot watcher error", "error", err)
			// Assume the worst when events may have been lost.
			s.dirty.Store(true)
		}
	}
}

func (s *Store) insideShadow(path string) bool {
	return path == s.shadow || strings.HasPrefix(path, s.shadow+string(filepath.Separator))
}

// markClean resets the dirty flag and drops the cached status after a
// snapshot or restore realigned the tree.
func (s *Store) markClean() {
	s.dirty.Store(false)
	s.statusMu.Lock()
	s.lastStatus = nil
	s.lastPolled = time.Time{}
	s.statusMu.Unlock()
}

// PollStatus reports the tree state against the latest snapshot. Full
// diffs run at most once per five seconds; within that window the cached
// result is returned unless the watcher saw changes in between.
func (s *Store) PollStatus() (*Status, error) {
	baseline, err := s.Latest()
	if errors.Is(err, ErrNoSnapshots) {
		return &Status{Clean: false, PolledAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if s.lastStatus != nil && s.lastStatus.Baseline == baseline.Hash &&
		time.Since(s.lastPolled) < minPollInterval && !s.dirty.Load() {
		cached := *s.lastStatus
		return &cached, nil
	}

	changes, err := s.Diff(baseline.Hash)
	if err != nil {
		return nil, err
	}
	status := &Status{
		Clean:    len(changes) == 0,
		Baseline: baseline.Hash,
		Changes:  changes,
		PolledAt: time.Now(),
	}
	s.dirty.Store(!status.Clean)
	s.lastStatus = status
	s.lastPolled = status.PolledAt
	cached := *status
	return &cached, nil
}
