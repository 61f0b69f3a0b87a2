// Package store implements the shared persistence substrate: one JSON file
// per collection, guarded by an in-process mutex plus a cross-process file
// lock, written atomically with backup-on-corruption recovery.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrBusy is returned when the collection lock cannot be acquired
	// within LockTimeout.
	ErrBusy = errors.New("store: collection busy")
	// ErrCorrupted is returned when neither the file nor its backup parse.
	ErrCorrupted = errors.New("store: collection corrupted")
)

// LockTimeout bounds lock acquisition for both the in-process mutex and the
// cross-process file lock.
const LockTimeout = 5 * time.Second

const flockRetryDelay = 25 * time.Millisecond

// Collection is a single JSON document on disk. All reads and writes go
// through the per-collection lock; Save copies the current file to .bak,
// writes a .tmp and renames it into place so readers never observe a
// partial write.
type Collection struct {
	path string
	sem  chan struct{}
	fl   *flock.Flock
}

// NewCollection binds a collection to its file path.
func NewCollection(path string) *Collection {
	return &Collection{
		path: path,
		sem:  make(chan struct{}, 1),
		fl:   flock.New(path + ".lock"),
	}
}

// Path returns the collection's file path.
func (c *Collection) Path() string { return c.path }

// Load reads the collection into out (a pointer to the collection's file
// shape). A missing file leaves out at its zero/default value. A file that
// fails to parse falls back to <path>.bak; if that also fails the corrupt
// file is quarantined to <path>.corrupted.<epoch> and out is left at the
// default — liveness over availability, with a warning on the side channel.
func (c *Collection) Load(ctx context.Context, out interface{}) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return c.loadLocked(out)
}

// Save writes v as the new collection contents.
func (c *Collection) Save(ctx context.Context, v interface{}) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return c.saveLocked(v)
}

// Update runs a read-modify-write sequence as a single critical section:
// load into out, apply mutate, persist out. If mutate returns an error
// nothing is written.
func (c *Collection) Update(ctx context.Context, out interface{}, mutate func() error) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.loadLocked(out); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return c.saveLocked(out)
}

// View runs read under the lock without writing back.
func (c *Collection) View(ctx context.Context, out interface{}, read func() error) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.loadLocked(out); err != nil {
		return err
	}
	return read()
}

func (c *Collection) lock(ctx context.Context) (func(), error) {
	timer := time.NewTimer(LockTimeout)
	defer timer.Stop()

	select {
	case c.sem <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrBusy, filepath.Base(c.path))
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lctx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()
	ok, err := c.fl.TryLockContext(lctx, flockRetryDelay)
	if err != nil || !ok {
		<-c.sem
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: %v", ErrBusy, filepath.Base(c.path), err)
		}
		return nil, fmt.Errorf("%w: %s", ErrBusy, filepath.Base(c.path))
	}

	return func() {
		_ = c.fl.Unlock()
		<-c.sem
	}, nil
}

func (c *Collection) loadLocked(out interface{}) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", filepath.Base(c.path), err)
	}

	if json.Unmarshal(data, out) == nil {
		return nil
	}
	zero(out)

	// Primary is corrupt; try the backup.
	if bak, err := os.ReadFile(c.path + ".bak"); err == nil {
		if json.Unmarshal(bak, out) == nil {
			slog.Warn("collection recovered from backup", "collection", filepath.Base(c.path))
			return nil
		}
		zero(out)
	}

	quarantine := fmt.Sprintf("%s.corrupted.%d", c.path, time.Now().Unix())
	if err := os.Rename(c.path, quarantine); err != nil {
		return fmt.Errorf("%w: %s: quarantine failed: %v", ErrCorrupted, filepath.Base(c.path), err)
	}
	slog.Warn("corrupted collection quarantined, starting from empty",
		"collection", filepath.Base(c.path), "quarantine", filepath.Base(quarantine))
	return nil
}

// zero resets *out so a failed partial unmarshal cannot leak fields into
// the fallback attempt or the returned default.
func zero(out interface{}) {
	v := reflect.ValueOf(out)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
}

func (c *Collection) saveLocked(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", filepath.Base(c.path), err)
	}

	// Keep a rollback copy of the last good state.
	if cur, err := os.ReadFile(c.path); err == nil {
		if err := os.WriteFile(c.path+".bak", cur, 0o644); err != nil {
			return fmt.Errorf("store: backup %s: %w", filepath.Base(c.path), err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", filepath.Base(c.path), err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("store: commit %s: %w", filepath.Base(c.path), err)
	}
	return nil
}
