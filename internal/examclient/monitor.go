package examclient

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// ViolationLimit is the highest tolerated violation count. The next one
// forces submission.
const ViolationLimit = 3

// SignalKind names an environment event observed during an attempt.
type SignalKind string

const (
	SignalVisibilityHidden  SignalKind = "VISIBILITY_HIDDEN"
	SignalFullscreenExit    SignalKind = "FULLSCREEN_EXIT"
	SignalFullscreenEnter   SignalKind = "FULLSCREEN_ENTER"
	SignalDevtoolsShortcut  SignalKind = "DEVTOOLS_SHORTCUT"
	SignalClipboardShortcut SignalKind = "CLIPBOARD_SHORTCUT"
	SignalSelectAllShortcut SignalKind = "SELECT_ALL_SHORTCUT"
	SignalContextMenu       SignalKind = "CONTEXT_MENU"
)

// Signal is one observed environment event.
type Signal struct {
	Kind SignalKind
	At   time.Time
}

// Environment is the host surface the monitor observes and controls.
type Environment interface {
	Signals() <-chan Signal
	// Suppress cancels the default action of a blocked shortcut.
	Suppress(sig Signal)
	RequestFullscreen()
}

// Notifier renders monitor and timer feedback to the candidate.
type Notifier interface {
	Warn(count, limit int)
	Notice(msg string)
	Block(msg string)
	Unblock()
}

// Verdict is what the monitor decided about one signal.
type Verdict struct {
	Counted    bool
	Count      int
	Force      bool
	Suppressed bool
	Block      bool
	Unblock    bool
	Violation  model.ViolationKind
}

// Monitor counts integrity violations. The count only grows.
type Monitor struct {
	count int
}

// NewMonitor starts counting from an already known count.
func NewMonitor(initial int) *Monitor {
	return &Monitor{count: max(0, initial)}
}

// Count returns the current violation count.
func (m *Monitor) Count() int { return m.count }

// Raise lifts the count to n if n is higher.
func (m *Monitor) Raise(n int) {
	m.count = max(m.count, n)
}

// Handle applies one signal. Inactive monitors ignore everything.
func (m *Monitor) Handle(sig Signal, active bool) Verdict {
	v := Verdict{Count: m.count}
	if !active {
		return v
	}

	switch sig.Kind {
	case SignalVisibilityHidden:
		v = m.count1(model.ViolationVisibilityHidden)
	case SignalFullscreenExit:
		v = m.count1(model.ViolationFullscreenExit)
		v.Block = !v.Force
	case SignalFullscreenEnter:
		v.Unblock = true
	case SignalDevtoolsShortcut, SignalClipboardShortcut, SignalSelectAllShortcut, SignalContextMenu:
		v.Suppressed = true
	}
	return v
}

func (m *Monitor) count1(kind model.ViolationKind) Verdict {
	m.count++
	return Verdict{
		Counted:   true,
		Count:     m.count,
		Force:     m.count > ViolationLimit,
		Violation: kind,
	}
}
