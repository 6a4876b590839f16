package model

// Phase is a named stage of an attempt. The set is closed; the legal moves
// between phases live in the client state machine.
type Phase string

const (
	PhaseModule1   Phase = "MODULE_1"
	PhaseReview1   Phase = "REVIEW_1"
	PhaseModule2   Phase = "MODULE_2"
	PhaseReview2   Phase = "REVIEW_2"
	PhaseSubmitted Phase = "SUBMITTED"
)

var phaseOrdinals = map[Phase]int{
	PhaseModule1:   0,
	PhaseReview1:   1,
	PhaseModule2:   2,
	PhaseReview2:   3,
	PhaseSubmitted: 4,
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := phaseOrdinals[p]
	return ok
}

// Ordinal returns the position of p in forward order, or -1 if unknown.
func (p Phase) Ordinal() int {
	if o, ok := phaseOrdinals[p]; ok {
		return o
	}
	return -1
}

// Module returns the 1-based module a phase belongs to, or 0 for SUBMITTED.
func (p Phase) Module() int {
	switch p {
	case PhaseModule1, PhaseReview1:
		return 1
	case PhaseModule2, PhaseReview2:
		return 2
	default:
		return 0
	}
}

// IsReview reports whether p is a review checkpoint screen.
func (p Phase) IsReview() bool {
	return p == PhaseReview1 || p == PhaseReview2
}

// MergePhase reconciles a stored phase with a checkpointed one. Moving back
// and forth inside a module is allowed; moving to an earlier module is not.
// Only submit completes an attempt, so an incoming SUBMITTED is ignored, as
// are unknown phases. The phase CASE in SaveCheckpoint applies the same rule.
func MergePhase(stored, incoming Phase) Phase {
	if !incoming.Valid() || incoming == PhaseSubmitted || stored == PhaseSubmitted {
		return stored
	}
	if !stored.Valid() || incoming.Module() >= stored.Module() {
		return incoming
	}
	return stored
}
