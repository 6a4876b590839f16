package examclient

import (
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMonitor_Handle(t *testing.T) {
	tests := []struct {
		name     string
		initial  int
		kind     SignalKind
		active   bool
		expected Verdict
	}{
		{
			name:     "hidden tab counts",
			kind:     SignalVisibilityHidden,
			active:   true,
			expected: Verdict{Counted: true, Count: 1, Violation: model.ViolationVisibilityHidden},
		},
		{
			name:     "fullscreen exit counts and blocks",
			initial:  1,
			kind:     SignalFullscreenExit,
			active:   true,
			expected: Verdict{Counted: true, Count: 2, Block: true, Violation: model.ViolationFullscreenExit},
		},
		{
			name:     "fullscreen enter unblocks",
			initial:  2,
			kind:     SignalFullscreenEnter,
			active:   true,
			expected: Verdict{Count: 2, Unblock: true},
		},
		{
			name:     "shortcuts are suppressed",
			kind:     SignalClipboardShortcut,
			active:   true,
			expected: Verdict{Suppressed: true},
		},
		{
			name:     "context menu is suppressed",
			kind:     SignalContextMenu,
			active:   true,
			expected: Verdict{Suppressed: true},
		},
		{
			name:     "third violation is a warning",
			initial:  2,
			kind:     SignalVisibilityHidden,
			active:   true,
			expected: Verdict{Counted: true, Count: 3, Violation: model.ViolationVisibilityHidden},
		},
		{
			name:     "fourth violation forces submit",
			initial:  3,
			kind:     SignalFullscreenExit,
			active:   true,
			expected: Verdict{Counted: true, Count: 4, Force: true, Violation: model.ViolationFullscreenExit},
		},
		{
			name:     "inactive monitor ignores signals",
			initial:  1,
			kind:     SignalVisibilityHidden,
			expected: Verdict{Count: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.initial)
			assert.Equal(t, tt.expected, m.Handle(Signal{Kind: tt.kind, At: t0}, tt.active))
		})
	}
}

func TestMonitor_Monotonic(t *testing.T) {
	m := NewMonitor(-3)
	assert.Equal(t, 0, m.Count())

	m.Raise(2)
	m.Raise(1)
	assert.Equal(t, 2, m.Count())

	m.Handle(Signal{Kind: SignalVisibilityHidden}, true)
	assert.Equal(t, 3, m.Count())
}
