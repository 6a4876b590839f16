package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionViolation Action = "violation"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest saves a single answer ahead of the next checkpoint.
type AutosaveRequest struct {
	Action       Action `json:"action"`
	SubmissionID string `json:"submission_id"`
	QuestionID   string `json:"question_id"`
	Value        string `json:"value"`
}

// ViolationRequest reports one counted proctoring violation.
type ViolationRequest struct {
	Action       Action `json:"action"`
	SubmissionID string `json:"submission_id"`
	Kind         string `json:"kind"`
	CountAfter   int    `json:"count_after"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventAck   Event = "ack"
	EventPong  Event = "pong"
)

type AckResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
