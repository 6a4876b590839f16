package examclient

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-session/internal/model"
)

var (
	// ErrIllegalTransition is returned for a phase move the plan does not allow.
	ErrIllegalTransition = errors.New("illegal phase transition")
	// ErrUnsupportedPlan is returned for tests with no sections or more than two.
	ErrUnsupportedPlan = errors.New("unsupported test plan")
)

type edge struct {
	from, to model.Phase
}

// guard decides whether an edge may be taken.
type guard int

const (
	always guard = iota
	// whileOpen allows the edge only while the target module's deadline has not passed.
	whileOpen
)

// Plan is the phase layout of one test: one or two timed modules, each
// followed by a review checkpoint.
type Plan struct {
	modules int
	edges   map[edge]guard
}

// NewPlan builds the transition table for a test with the given number of
// sections.
func NewPlan(sections int) (Plan, error) {
	if sections < 1 || sections > 2 {
		return Plan{}, fmt.Errorf("%w: %d sections", ErrUnsupportedPlan, sections)
	}

	edges := map[edge]guard{
		{model.PhaseModule1, model.PhaseReview1}: always,
		{model.PhaseReview1, model.PhaseModule1}: whileOpen,
	}
	if sections == 1 {
		edges[edge{model.PhaseReview1, model.PhaseSubmitted}] = always
	} else {
		edges[edge{model.PhaseReview1, model.PhaseModule2}] = always
		edges[edge{model.PhaseModule2, model.PhaseReview2}] = always
		edges[edge{model.PhaseReview2, model.PhaseModule2}] = whileOpen
		edges[edge{model.PhaseReview2, model.PhaseSubmitted}] = always
	}
	return Plan{modules: sections, edges: edges}, nil
}

// Modules returns the number of timed modules.
func (p Plan) Modules() int { return p.modules }

// IsFinal reports whether phase belongs to the last module.
func (p Plan) IsFinal(phase model.Phase) bool {
	return phase.Module() == p.modules
}

// ReviewOf returns the review checkpoint following a module.
func (p Plan) ReviewOf(phase model.Phase) model.Phase {
	if phase.Module() == 2 {
		return model.PhaseReview2
	}
	return model.PhaseReview1
}

// Check validates a move. A forced move to SUBMITTED is allowed from any
// live phase. crossed reports whether the target module's deadline has passed.
func (p Plan) Check(from, to model.Phase, forced, crossed bool) error {
	if from == model.PhaseSubmitted {
		return fmt.Errorf("%w: attempt already submitted", ErrIllegalTransition)
	}
	if forced && to == model.PhaseSubmitted && from.Valid() {
		return nil
	}

	g, ok := p.edges[edge{from, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if g == whileOpen && crossed {
		return fmt.Errorf("%w: %s deadline has passed", ErrIllegalTransition, to)
	}
	return nil
}

// Contains reports whether phase exists in this plan.
func (p Plan) Contains(phase model.Phase) bool {
	if phase == model.PhaseSubmitted {
		return true
	}
	m := phase.Module()
	return m >= 1 && m <= p.modules
}
