// Package registry persists the active-session record shared by the
// foreground and background execution contexts. The record lives in a small
// JSON file; every write is a locked read-modify-write merge followed by an
// atomic rename, so neither side clobbers fields it does not own.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/heidestein/routetrack/pkg/core"
)

var (
	// ErrCorrupt is returned by Read when the record cannot be trusted.
	ErrCorrupt = errors.New("active session record is corrupt")
	// ErrSessionActive is returned by SetResumed when the record names
	// another track.
	ErrSessionActive = errors.New("another session is active")
)

// Registry reads and patches the active-session file.
type Registry struct {
	path string
	log  *slog.Logger

	// serializes writers in this process, the file lock covers other processes
	mu sync.Mutex
}

// New returns a Registry backed by the file at path.
func New(path string, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{path: path, log: log}
}

// Path returns the record file path.
func (r *Registry) Path() string {
	return r.path
}

type patch struct {
	trackID      *string
	segmentIndex *int
	mode         *core.Mode
	writer       *core.Writer
	resumed      *bool
	// create allows the patch to start a new record when none exists
	create bool
	// exclusive fails when a valid record names another track
	exclusive bool
}

// SetActiveMeta records the track and segment being written. It creates the
// record when none exists, defaulting to tracking mode with the background writer.
func (r *Registry) SetActiveMeta(trackID string, segmentIndex int) error {
	if trackID == "" {
		return fmt.Errorf("set active meta: empty track id")
	}
	if segmentIndex < 0 {
		return fmt.Errorf("set active meta: negative segment index %d", segmentIndex)
	}
	return r.update(patch{trackID: &trackID, segmentIndex: &segmentIndex, create: true})
}

// SetResumed starts a record that reopens the finished track trackID at
// segmentIndex, in tracking mode with the background writer. It replaces a
// corrupt record but refuses to overwrite another live session.
func (r *Registry) SetResumed(trackID string, segmentIndex int) error {
	if trackID == "" {
		return fmt.Errorf("set resumed: empty track id")
	}
	if segmentIndex < 0 {
		return fmt.Errorf("set resumed: negative segment index %d", segmentIndex)
	}
	mode, writer, resumed := core.ModeTracking, core.WriterBackground, true
	return r.update(patch{
		trackID:      &trackID,
		segmentIndex: &segmentIndex,
		mode:         &mode,
		writer:       &writer,
		resumed:      &resumed,
		create:       true,
		exclusive:    true,
	})
}

// SetWriter hands write authority to w. It is a no-op without an active record.
func (r *Registry) SetWriter(w core.Writer) error {
	if !w.Valid() {
		return fmt.Errorf("set writer: unknown writer %q", w)
	}
	return r.update(patch{writer: &w})
}

// SetMode records the cadence mode. It is a no-op without an active record.
func (r *Registry) SetMode(m core.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("set mode: unknown mode %q", m)
	}
	return r.update(patch{mode: &m})
}

// Read returns the current record, nil when no session is active, or
// ErrCorrupt when the file is unparsable or inconsistent.
func (r *Registry) Read() (*core.ActiveSession, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active session: %w", err)
	}

	var rec core.ActiveSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.TrackID == "" || rec.SegmentIndex < 0 || !rec.Mode.Valid() || !rec.Writer.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrCorrupt, rec)
	}
	return &rec, nil
}

// Clear deletes the record. Clearing an absent record is not an error.
func (r *Registry) Clear() error {
	return r.withLock(func() error {
		if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear active session: %w", err)
		}
		return nil
	})
}

func (r *Registry) update(p patch) error {
	return r.withLock(func() error {
		cur, err := r.Read()
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return err
		}
		if err != nil {
			r.log.Warn("Replacing corrupt active session record", "path", r.path, "error", err)
		}

		if cur != nil && p.exclusive && p.trackID != nil && cur.TrackID != *p.trackID {
			return fmt.Errorf("%w: %s", ErrSessionActive, cur.TrackID)
		}

		if cur == nil {
			if !p.create {
				return nil
			}
			cur = &core.ActiveSession{Mode: core.ModeTracking, Writer: core.WriterBackground}
		}

		if p.trackID != nil {
			cur.TrackID = *p.trackID
		}
		if p.segmentIndex != nil {
			cur.SegmentIndex = *p.segmentIndex
		}
		if p.mode != nil {
			cur.Mode = *p.mode
		}
		if p.writer != nil {
			cur.Writer = *p.writer
		}
		if p.resumed != nil {
			cur.Resumed = *p.resumed
		}
		return r.write(cur)
	})
}

// write replaces the record atomically.
func (r *Registry) write(rec *core.ActiveSession) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode active session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".active-*.tmp")
	if err != nil {
		return fmt.Errorf("write active session: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write active session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync active session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close active session: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace active session: %w", err)
	}
	return nil
}

func (r *Registry) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	f, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open registry lock: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer unlockFile(f) //nolint:errcheck // released on close anyway

	return fn()
}

// Watch calls fn with the current record and again after every change to the
// file, until ctx is cancelled. fn receives the same values Read returns.
func (r *Registry) Watch(ctx context.Context, fn func(*core.ActiveSession, error)) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// the file is replaced by rename, so watch the directory
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	fn(r.Read())

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			fn(r.Read())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("Active session watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
