package examclient

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func payload(mode model.DeliveryMode, minutes ...int) *model.TestPayload {
	p := &model.TestPayload{TestID: uuid.New(), Mode: mode}
	for i, m := range minutes {
		p.Sections = append(p.Sections, model.SectionForStudent{
			ID:              uuid.New(),
			OrderNum:        i + 1,
			DurationMinutes: m,
			Questions: []model.QuestionForStudent{
				{ID: uuid.New(), QuestionType: model.QuestionTypeMCQ, OrderNum: 1},
				{ID: uuid.New(), QuestionType: model.QuestionTypeSPR, OrderNum: 2},
			},
		})
	}
	return p
}

func TestSchedule_Exam(t *testing.T) {
	p := payload(model.DeliveryModeExam, 32, 35)
	desc := &model.SessionDescriptor{StartedAt: t0, Phase: model.PhaseModule1, TimeLeft: 67 * 60}
	s := NewSchedule(p, desc, t0.Add(10*time.Minute))

	now := t0.Add(10 * time.Minute)
	assert.Equal(t, 22*time.Minute, s.Remaining(model.PhaseModule1, now))
	assert.Equal(t, 22*time.Minute, s.Remaining(model.PhaseReview1, now), "review shows its module's deadline")
	assert.Equal(t, 57*time.Minute, s.Remaining(model.PhaseModule2, now))
	assert.Equal(t, 57*60, s.TimeLeft(model.PhaseModule1, now))

	// Entering module 2 early does not move the exam deadline.
	assert.True(t, s.ArmModule2(t0.Add(20*time.Minute)))
	assert.False(t, s.ArmModule2(t0.Add(25*time.Minute)))
	assert.Equal(t, t0.Add(67*time.Minute), s.Deadline(model.PhaseModule2))
	assert.Equal(t, t0.Add(20*time.Minute), *s.Module2StartedAt())

	assert.False(t, s.Crossed(1, t0.Add(31*time.Minute)))
	assert.True(t, s.Crossed(1, t0.Add(32*time.Minute)))
	assert.Equal(t, time.Duration(0), s.Remaining(model.PhaseModule1, t0.Add(40*time.Minute)))
}

func TestSchedule_PracticeModule1(t *testing.T) {
	p := payload(model.DeliveryModePractice, 32, 35)
	// Paused with 50 minutes of budget left, 15 of them for module 1.
	desc := &model.SessionDescriptor{StartedAt: t0.Add(-48 * time.Hour), Phase: model.PhaseModule1, TimeLeft: 50 * 60}
	s := NewSchedule(p, desc, t0)

	assert.Equal(t, 15*time.Minute, s.Remaining(model.PhaseModule1, t0))
	assert.Equal(t, 50*60, s.TimeLeft(model.PhaseModule1, t0))
	assert.False(t, s.Crossed(2, t0.Add(24*time.Hour)), "unarmed module 2 never expires")

	at := t0.Add(5 * time.Minute)
	assert.True(t, s.ArmModule2(at))
	assert.Equal(t, at.Add(35*time.Minute), s.Deadline(model.PhaseModule2))
	assert.False(t, s.ArmModule2(at.Add(time.Minute)), "arming is idempotent")
	assert.Equal(t, at.Add(35*time.Minute), s.Deadline(model.PhaseModule2))
	assert.Equal(t, 35*60, s.TimeLeft(model.PhaseModule2, at))
}

func TestSchedule_PracticeResumeInModule2(t *testing.T) {
	p := payload(model.DeliveryModePractice, 32, 35)
	desc := &model.SessionDescriptor{StartedAt: t0.Add(-time.Hour), Phase: model.PhaseModule2, TimeLeft: 20 * 60}
	s := NewSchedule(p, desc, t0)

	assert.Equal(t, 20*time.Minute, s.Remaining(model.PhaseModule2, t0))
	assert.True(t, s.Crossed(1, t0))
	assert.NotNil(t, s.Module2StartedAt())
	assert.False(t, s.ArmModule2(t0.Add(time.Minute)), "resumed module 2 is already armed")
	assert.Equal(t, t0.Add(20*time.Minute), s.Deadline(model.PhaseModule2))
}

func TestSchedule_Restore(t *testing.T) {
	p := payload(model.DeliveryModePractice, 10)
	m1 := t0.Add(4 * time.Minute)
	s := RestoreSchedule(p, m1, time.Time{}, nil)

	assert.Equal(t, 3*time.Minute, s.Remaining(model.PhaseModule1, t0.Add(time.Minute)))
	assert.Equal(t, 180, s.TimeLeft(model.PhaseModule1, t0.Add(time.Minute)))
	gotM1, gotM2 := s.Deadlines()
	assert.Equal(t, m1, gotM1)
	assert.True(t, gotM2.IsZero())
	assert.Equal(t, time.Duration(0), s.Remaining(model.PhaseSubmitted, t0))
}
