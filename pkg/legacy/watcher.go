package legacy

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Start runs the reload sweeper, and the file watcher if enabled, until
// ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)

	if m.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return err
		}
		m.watcher = w
		clear(m.watched)
		for _, drv := range m.drivers {
			m.watchLocked(drv)
		}
		m.wg.Add(1)
		go m.watchLoop(ctx, w)
	}

	m.cancel = cancel
	m.wg.Add(1)
	go m.sweepLoop(ctx)
	return nil
}

// Stop ends the background work started by Start and waits for it.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, w := m.cancel, m.watcher
	m.cancel, m.watcher = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if w != nil {
		_ = w.Close()
	}
	m.wg.Wait()
}

// watchLocked registers the backing file of drv for change
// notifications. The directory is watched since editors replace files.
func (m *Manager) watchLocked(drv *driver) {
	target := m.resolve(drv.path)

	m.eventsMu.Lock()
	m.watchPaths[target] = true
	m.watchPaths[drv.path] = true
	m.eventsMu.Unlock()

	if m.watcher == nil {
		return
	}
	dir := filepath.Dir(target)
	if m.watched[dir] {
		return
	}
	if err := m.watcher.Add(dir); err != nil {
		m.debugLog("legacy: cannot watch", "dir", dir, "error", err)
		return
	}
	m.watched[dir] = true
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Chmod) {
				m.Changed(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.debugLog("legacy: watcher error", "error", err)
		}
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Changed queues a change notification for path. It does no reload work
// and is safe to call from notification context. Paths that belong to no
// record are dropped.
func (m *Manager) Changed(path string) {
	path = filepath.Clean(path)
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if !m.watchPaths[path] {
		return
	}
	m.events = append(m.events, path)
	m.pending.Add(1)
}

// Pending returns the number of queued change notifications.
func (m *Manager) Pending() int { return int(m.pending.Load()) }

// Sweep applies the queued changes: records whose backing file got a new
// modification time are marked dirty, then every dirty record without
// open devices is reloaded.
func (m *Manager) Sweep() {
	m.eventsMu.Lock()
	events := m.events
	m.events = nil
	m.pending.Add(-int32(len(events)))
	m.eventsMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, path := range events {
		drv := m.byPathLocked(path)
		if drv == nil {
			continue
		}
		info, err := m.fs.Stat(drv.path)
		if err != nil || info.ModTime().Equal(drv.modTime) {
			continue
		}
		if !drv.loaded() {
			drv.modTime = info.ModTime()
			continue
		}
		if !drv.dirty {
			drv.dirty = true
			m.logState(drv, "loaded", "dirty", "backing file changed")
		}
	}

	names := make([]string, 0, len(m.drivers))
	for name := range m.drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		drv := m.drivers[name]
		if !drv.dirty || drv.used > 0 {
			continue
		}
		if err := m.reload(drv, "changed"); err != nil {
			m.logError(drv.name, drv.path, "reload", err)
		}
	}
}

func (m *Manager) byPathLocked(path string) *driver {
	for _, drv := range m.drivers {
		if drv.path == path {
			return drv
		}
		if m.resolve(drv.path) == path {
			return drv
		}
	}
	return nil
}

// resolve follows symlinks of paths on the OS file system.
func (m *Manager) resolve(path string) string {
	if _, ok := m.fs.(*afero.OsFs); !ok {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
