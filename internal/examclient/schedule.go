package examclient

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Schedule holds the absolute per-module deadlines of one attempt. Every
// countdown is recomputed from these against the clock, so a stalled tick
// never drifts the timer.
type Schedule struct {
	mode model.DeliveryMode
	d1   time.Duration
	d2   time.Duration

	m1 time.Time
	m2 time.Time

	module2StartedAt *time.Time
}

// NewSchedule derives deadlines from a server descriptor received at loadedAt.
func NewSchedule(payload *model.TestPayload, desc *model.SessionDescriptor, loadedAt time.Time) *Schedule {
	s := &Schedule{mode: payload.Mode}
	if len(payload.Sections) > 0 {
		s.d1 = minutes(payload.Sections[0].DurationMinutes)
	}
	if len(payload.Sections) > 1 {
		s.d2 = minutes(payload.Sections[1].DurationMinutes)
	}
	if desc.Module2StartedAt != nil {
		t := *desc.Module2StartedAt
		s.module2StartedAt = &t
	}

	if s.mode == model.DeliveryModeExam {
		s.m1 = desc.StartedAt.Add(s.d1)
		s.m2 = s.m1.Add(s.d2)
		return s
	}

	pool := loadedAt.Add(time.Duration(desc.TimeLeft) * time.Second)
	if desc.Phase.Module() == 2 {
		// Module 1 is spent; the remaining pool belongs to module 2.
		s.m1 = loadedAt
		s.m2 = pool
		if s.module2StartedAt == nil {
			t := pool.Add(-s.d2)
			s.module2StartedAt = &t
		}
		return s
	}
	s.m1 = pool.Add(-s.d2)
	return s
}

// RestoreSchedule rebuilds a schedule from deadlines kept in a local snapshot.
func RestoreSchedule(payload *model.TestPayload, m1, m2 time.Time, module2StartedAt *time.Time) *Schedule {
	s := &Schedule{mode: payload.Mode, m1: m1, m2: m2}
	if len(payload.Sections) > 0 {
		s.d1 = minutes(payload.Sections[0].DurationMinutes)
	}
	if len(payload.Sections) > 1 {
		s.d2 = minutes(payload.Sections[1].DurationMinutes)
	}
	if module2StartedAt != nil {
		t := *module2StartedAt
		s.module2StartedAt = &t
	}
	return s
}

// ArmModule2 records the first entry into module 2. It reports false when
// module 2 was already armed.
func (s *Schedule) ArmModule2(at time.Time) bool {
	if s.module2StartedAt != nil {
		return false
	}
	t := at
	s.module2StartedAt = &t
	if s.mode != model.DeliveryModeExam {
		s.m2 = at.Add(s.d2)
	}
	return true
}

// Deadline returns the deadline shown for phase. Review phases show the
// deadline of the module they review.
func (s *Schedule) Deadline(phase model.Phase) time.Time {
	if phase.Module() == 2 {
		return s.m2
	}
	return s.m1
}

// Remaining is max(0, deadline - now) for phase.
func (s *Schedule) Remaining(phase model.Phase, now time.Time) time.Duration {
	if phase == model.PhaseSubmitted {
		return 0
	}
	d := s.Deadline(phase)
	if d.IsZero() {
		return 0
	}
	return max(0, d.Sub(now))
}

// Crossed reports whether module's deadline has passed. An unarmed
// practice module 2 is never crossed.
func (s *Schedule) Crossed(module int, now time.Time) bool {
	d := s.m1
	if module == 2 {
		d = s.m2
	}
	if d.IsZero() {
		return false
	}
	return !now.Before(d)
}

// TimeLeft is the whole-second budget written into a checkpoint. During
// module 1 it includes the untouched module 2 duration.
func (s *Schedule) TimeLeft(phase model.Phase, now time.Time) int {
	left := s.Remaining(phase, now)
	if phase.Module() == 1 {
		left += s.d2
	}
	return int(left / time.Second)
}

// Module2StartedAt returns when module 2 was first entered, if ever.
func (s *Schedule) Module2StartedAt() *time.Time {
	if s.module2StartedAt == nil {
		return nil
	}
	t := *s.module2StartedAt
	return &t
}

// Deadlines returns both absolute deadlines for snapshotting.
func (s *Schedule) Deadlines() (m1, m2 time.Time) {
	return s.m1, s.m2
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
