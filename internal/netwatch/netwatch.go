// Package netwatch watches systemd-networkd's operational-state file for
// link up/down transitions, coalescing bursts of filesystem events into a
// single debounced notification.
//
// Grounded on original_source/src/share/sd-network.c: network_get_operstate
// reads KEY=VALUE lines out of /run/systemd/netif/state looking for
// OPER_STATE, falling back from -ENOENT to -ENODATA when the file does not
// exist yet. We reproduce that fallback chain by watching progressively
// less specific parent directories until one exists, and fsnotify.Watcher
// plays the role of the original's inotify-based fd monitor.
package netwatch

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	liberr "github.com/ssahani/systemd-netlogd/errors"
)

const (
	ErrorWatch liberr.CodeError = iota + liberr.MinPkgNetwatch
)

var isCodeError = false

func IsCodeError() bool { return isCodeError }

func init() {
	isCodeError = liberr.ExistInMapMessage(ErrorWatch)
	liberr.RegisterIdFctMessage(ErrorWatch, getMessage)
}

func getMessage(code liberr.CodeError) string {
	if code == ErrorWatch {
		return "netwatch: failed to watch network state"
	}
	return ""
}

// DefaultStatePath is the file network-change notifications key off; it
// matches sd-network.c's primary lookup path.
const DefaultStatePath = "/run/systemd/netif/state"

// DefaultDebounce coalesces bursts of events into one notification within
// this window, per spec.md §4.5.
const DefaultDebounce = 200 * time.Millisecond

// Event reports an operational-state transition.
type Event struct {
	Up bool
}

// Watcher monitors DefaultStatePath (or a path override for tests) and
// emits a coalesced Event whenever OPER_STATE crosses the up/down
// boundary.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	lastUp   bool
	haveLast bool
}

// New opens a fsnotify watch on statePath's containing directory, falling
// back to its parent, then grandparent, if the more specific directory
// does not exist yet — the same -ENOENT fallback sd-network.c performs.
func New(statePath string, debounce time.Duration) (*Watcher, error) {
	if statePath == "" {
		statePath = DefaultStatePath
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ErrorWatch.Error(err)
	}

	dir := firstExistingDir(filepath.Dir(statePath))
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, ErrorWatch.Error(err)
	}

	return &Watcher{path: statePath, debounce: debounce, fsw: fsw}, nil
}

// firstExistingDir walks up from dir until it finds a directory that
// exists, matching sd-network.c's chain from links/<ifindex> to netif/ to
// the systemd run directory root.
func firstExistingDir(dir string) string {
	for {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Run starts the debounced event loop and returns a channel of coalesced
// up/down transitions. The channel is closed when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) <-chan Event {
	out := make(chan Event, 1)

	go func() {
		defer close(out)

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(w.debounce)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				if ev, changed := w.poll(); changed {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out
}

// poll reads OPER_STATE from the state file and reports whether it
// changed the up/down classification since the last poll.
func (w *Watcher) poll() (Event, bool) {
	state, err := readOperState(w.path)
	if err != nil {
		return Event{}, false
	}

	up := isUpState(state)
	if w.haveLast && up == w.lastUp {
		return Event{}, false
	}
	w.lastUp = up
	w.haveLast = true
	return Event{Up: up}, true
}

// isUpState follows systemd-networkd's operstate vocabulary: "routable",
// "degraded" and "carrier" count as usable connectivity; every other
// state (including "enslaved") counts as down.
func isUpState(state string) bool {
	switch state {
	case "routable", "degraded", "carrier":
		return true
	default:
		return false
	}
}

func readOperState(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if k == "OPER_STATE" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", sc.Err()
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
