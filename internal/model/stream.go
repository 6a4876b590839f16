package model

import "maps"

// AutosaveEvent is one answer streamed over the session WebSocket and queued
// for persistence into saved_answers.
type AutosaveEvent struct {
	SubmissionID string `json:"submission_id"`
	UserID       int    `json:"user_id"`
	QuestionID   string `json:"question_id"`
	Value        string `json:"value"`
	Timestamp    int64  `json:"timestamp"`
}

// ViolationKind names a proctoring signal that counts toward the violation limit.
type ViolationKind string

const (
	ViolationVisibilityHidden ViolationKind = "VISIBILITY_HIDDEN"
	ViolationFullscreenExit   ViolationKind = "FULLSCREEN_EXIT"
)

// ViolationEvent is the audit record of one counted violation.
type ViolationEvent struct {
	SubmissionID string        `json:"submission_id"`
	UserID       int           `json:"user_id"`
	Kind         ViolationKind `json:"kind"`
	CountAfter   int           `json:"count_after"`
	Timestamp    int64         `json:"timestamp"`
}

// OverlayAnswers returns saved with streamed answers applied on top. An
// empty streamed value is a cleared answer and removes the key.
func OverlayAnswers(saved, streamed map[string]string) map[string]string {
	out := make(map[string]string, len(saved)+len(streamed))
	maps.Copy(out, saved)
	for qid, v := range streamed {
		if v == "" {
			delete(out, qid)
			continue
		}
		out[qid] = v
	}
	return out
}
