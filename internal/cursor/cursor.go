// Package cursor tracks the journal read position and persists it
// atomically, giving the daemon at-least-once delivery semantics across
// restarts.
//
// Grounded on spec.md §4.6, whose three-slot (current/pending/persisted)
// API and LAST_CURSOR=<opaque> state-file format are specified directly,
// and on original_source/src/netlog/netlog-manager.h's Manager fields
// (state_file, last_cursor, current_cursor) that this tracker's fields
// mirror; the temp-file+rename persistence itself is the standard Go
// crash-safe single-file update idiom (os.CreateTemp + Sync + Rename),
// not copied from any one pack file.
package cursor

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	liberr "github.com/ssahani/systemd-netlogd/errors"
)

const (
	ErrorPersist liberr.CodeError = iota + liberr.MinPkgCursor
	ErrorLoad
)

var isCodeError = false

func IsCodeError() bool { return isCodeError }

func init() {
	isCodeError = liberr.ExistInMapMessage(ErrorPersist)
	liberr.RegisterIdFctMessage(ErrorPersist, getMessage)
	liberr.RegisterIdFctMessage(ErrorLoad, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorPersist:
		return "cursor: failed to persist state file"
	case ErrorLoad:
		return "cursor: failed to load state file"
	}
	return ""
}

const stateKey = "LAST_CURSOR"

// Tracker maintains the three cursor slots spec.md §4.6 names: current
// (most recently read), pending (most recently sent, awaiting flush), and
// persisted (on disk). All methods are safe to call from the single
// reactor goroutine only — this type performs no internal locking for
// cross-goroutine use beyond what's needed to let Persisted() be read by
// diagnostics concurrently.
type Tracker struct {
	path string

	mu        sync.RWMutex
	current   string
	pending   string
	persisted string
}

// Open loads any existing state file at path and returns a Tracker seeded
// with its value. A missing file is not an error: the tracker starts
// empty, so the journal source will begin at its own default (typically
// "now" or the start of the journal).
func Open(path string) (*Tracker, error) {
	t := &Tracker{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, ErrorLoad.Error(err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if k == stateKey {
			t.persisted = v
			t.current = v
			t.pending = v
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, ErrorLoad.Error(err)
	}

	return t, nil
}

// Seed returns the persisted cursor to hand the journal source as its
// seek point on startup.
func (t *Tracker) Seed() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.persisted
}

// RecordRead sets current to the cursor of the most recently read
// record.
func (t *Tracker) RecordRead(c string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = c
}

// RecordSent copies current into the pending slot, marking it eligible
// for the next flush. Invariant 2 (spec.md §3) requires this be called
// only after the transport has reported the record as written.
func (t *Tracker) RecordSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = t.current
}

// Pending reports the cursor awaiting flush.
func (t *Tracker) Pending() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// Persisted reports the cursor last durably written to disk.
func (t *Tracker) Persisted() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.persisted
}

// Flush atomically replaces the state file with the pending cursor and,
// on success, advances persisted to match. A no-op when pending already
// equals persisted, avoiding a write+rename on every idle tick.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	pending := t.pending
	already := pending == t.persisted
	t.mu.Unlock()

	if already {
		return nil
	}
	if t.path == "" {
		return nil
	}

	if err := writeAtomic(t.path, pending); err != nil {
		return ErrorPersist.Error(err)
	}

	t.mu.Lock()
	t.persisted = pending
	t.mu.Unlock()
	return nil
}

// writeAtomic writes content to a temp sibling of path and renames it
// into place, so a crash never leaves a partially-written state file.
func writeAtomic(path, cursorValue string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".netlogd-cursor-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	line := fmt.Sprintf("%s=%s\n", stateKey, cursorValue)
	if _, err := tmp.WriteString(line); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
