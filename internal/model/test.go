package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryMode governs whether integrity monitoring and hard per-module
// deadlines apply to a test.
type DeliveryMode string

const (
	DeliveryModePractice DeliveryMode = "PRACTICE"
	DeliveryModeExam     DeliveryMode = "EXAM"
)

// QuestionType tags how an answer is compared against its key.
type QuestionType string

const (
	QuestionTypeMCQ QuestionType = "MCQ"
	// QuestionTypeSPR is a student-produced (constructed) response.
	QuestionTypeSPR QuestionType = "SPR"
)

// Test is an immutable test definition. Read-only to the session engine.
type Test struct {
	ID        uuid.UUID    `json:"id"`
	Title     string       `json:"title"`
	AuthorID  int          `json:"author_id"`
	Mode      DeliveryMode `json:"mode"`
	Sections  []Section    `json:"sections"`
	CreatedAt time.Time    `json:"created_at"`
}

// Section is one timed module of a test.
type Section struct {
	ID              uuid.UUID  `json:"id"`
	TestID          uuid.UUID  `json:"test_id"`
	Title           string     `json:"title"`
	OrderNum        int        `json:"order_num"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
}

// Question belongs to exactly one section. Content is opaque to the engine.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	SectionID     uuid.UUID       `json:"section_id"`
	QuestionType  QuestionType    `json:"question_type"`
	Content       json.RawMessage `json:"content"`
	CorrectAnswer string          `json:"correct_answer"`
	OrderNum      int             `json:"order_num"`
}

// TotalDuration is the sum of all section durations.
func (t *Test) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range t.Sections {
		total += time.Duration(s.DurationMinutes) * time.Minute
	}
	return total
}

// QuestionCount counts questions across all sections.
func (t *Test) QuestionCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Questions)
	}
	return n
}

// TestPayload is the Redis-cached test content sent to students (no answer keys).
type TestPayload struct {
	TestID   uuid.UUID           `json:"test_id"`
	Title    string              `json:"title"`
	Mode     DeliveryMode        `json:"mode"`
	Sections []SectionForStudent `json:"sections"`
}

// SectionForStudent is a section stripped of answer keys.
type SectionForStudent struct {
	ID              uuid.UUID            `json:"id"`
	Title           string               `json:"title"`
	OrderNum        int                  `json:"order_num"`
	DurationMinutes int                  `json:"duration_minutes"`
	Questions       []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without its correct answer.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionType QuestionType    `json:"question_type"`
	Content      json.RawMessage `json:"content"`
	OrderNum     int             `json:"order_num"`
}

// TotalDuration is the sum of all section durations.
func (p *TestPayload) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Sections {
		total += time.Duration(s.DurationMinutes) * time.Minute
	}
	return total
}

// QuestionCount counts questions across all sections.
func (p *TestPayload) QuestionCount() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Questions)
	}
	return n
}

// ToPayload strips answer keys from the test.
func (t *Test) ToPayload() TestPayload {
	sections := make([]SectionForStudent, len(t.Sections))
	for i, s := range t.Sections {
		qs := make([]QuestionForStudent, len(s.Questions))
		for j, q := range s.Questions {
			qs[j] = QuestionForStudent{
				ID:           q.ID,
				QuestionType: q.QuestionType,
				Content:      q.Content,
				OrderNum:     q.OrderNum,
			}
		}
		sections[i] = SectionForStudent{
			ID:              s.ID,
			Title:           s.Title,
			OrderNum:        s.OrderNum,
			DurationMinutes: s.DurationMinutes,
			Questions:       qs,
		}
	}
	return TestPayload{
		TestID:   t.ID,
		Title:    t.Title,
		Mode:     t.Mode,
		Sections: sections,
	}
}
