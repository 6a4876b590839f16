package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates attempt lifecycle states.
type SubmissionStatus string

const (
	SubmissionStatusDoing     SubmissionStatus = "DOING"
	SubmissionStatusCompleted SubmissionStatus = "COMPLETED"
)

// TerminationReason records why an attempt reached COMPLETED.
type TerminationReason string

const (
	TerminationSubmitted      TerminationReason = "SUBMITTED"
	TerminationTimeout        TerminationReason = "TIMEOUT"
	TerminationViolationLimit TerminationReason = "VIOLATION_LIMIT"
	TerminationExpired        TerminationReason = "EXPIRED"
)

// Submission is one user's attempt at one test.
type Submission struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               int                `json:"user_id"`
	TestID               uuid.UUID          `json:"test_id"`
	Status               SubmissionStatus   `json:"status"`
	StartedAt            time.Time          `json:"started_at"`
	TimeLeftSeconds      int                `json:"time_left"`
	CurrentQuestionIndex int                `json:"current_question_index"`
	SavedAnswers         map[string]string  `json:"saved_answers"`
	ViolationCount       int                `json:"violation_count"`
	Phase                Phase              `json:"phase"`
	Module2StartedAt     *time.Time         `json:"module2_started_at,omitempty"`
	Score                *int               `json:"score,omitempty"`
	Total                *int               `json:"total,omitempty"`
	EndTime              *time.Time         `json:"end_time,omitempty"`
	TerminationReason    *TerminationReason `json:"termination_reason,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsCompleted reports whether the attempt is sealed.
func (s *Submission) IsCompleted() bool {
	return s.Status == SubmissionStatusCompleted
}

// Answer is the graded, write-once record of one question in a completed submission.
type Answer struct {
	SubmissionID  uuid.UUID `json:"submission_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	SelectedValue *string   `json:"selected_value"`
	IsCorrect     bool      `json:"is_correct"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionDescriptor is the authoritative view of an attempt returned to the client.
type SessionDescriptor struct {
	SubmissionID         uuid.UUID         `json:"submissionId"`
	StartedAt            time.Time         `json:"startedAt"`
	Status               SubmissionStatus  `json:"status"`
	SavedAnswers         map[string]string `json:"savedAnswers"`
	TimeLeft             int               `json:"timeLeft"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	ViolationCount       int               `json:"violationCount"`
	Phase                Phase             `json:"phase"`
	Module2StartedAt     *time.Time        `json:"module2StartedAt,omitempty"`
	ServerTime           time.Time         `json:"serverTime"`
}

// SessionEnvelope is the response body of GET /session/:test_id.
type SessionEnvelope struct {
	Test    TestPayload       `json:"test"`
	Session SessionDescriptor `json:"session"`
}

// CheckpointRequest is the payload for persisting in-progress state.
type CheckpointRequest struct {
	SubmissionID         uuid.UUID         `json:"submissionId" binding:"required"`
	Answers              map[string]string `json:"answers"`
	TimeLeft             int               `json:"timeLeft" binding:"min=0"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex" binding:"min=0"`
	ViolationCount       int               `json:"violationCount" binding:"min=0"`
	Phase                Phase             `json:"phase" binding:"omitempty,phase"`
	Module2StartedAt     *time.Time        `json:"module2StartedAt" binding:"omitempty"`
}

// SubmitRequest is the payload for finalizing an attempt.
type SubmitRequest struct {
	SubmissionID   uuid.UUID         `json:"submissionId" binding:"required"`
	Answers        map[string]string `json:"answers"`
	ViolationCount int               `json:"violationCount" binding:"min=0"`
	Reason         TerminationReason `json:"reason" binding:"omitempty,oneof=SUBMITTED TIMEOUT VIOLATION_LIMIT"`
}

// QuestionDetail is one graded question, for review rendering.
type QuestionDetail struct {
	QuestionID    uuid.UUID `json:"questionId"`
	IsCorrect     bool      `json:"isCorrect"`
	UserSelected  *string   `json:"userSelected"`
	CorrectOption string    `json:"correctOption"`
}

// GradeResult is the response body of submit and result.
type GradeResult struct {
	SubmissionID uuid.UUID         `json:"submissionId"`
	Score        int               `json:"score"`
	Total        int               `json:"total"`
	Reason       TerminationReason `json:"reason,omitempty"`
	Details      []QuestionDetail  `json:"details"`
}
