package examclient

import (
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan_Sections(t *testing.T) {
	for _, n := range []int{0, 3} {
		_, err := NewPlan(n)
		assert.ErrorIs(t, err, ErrUnsupportedPlan, "%d sections", n)
	}
	for _, n := range []int{1, 2} {
		p, err := NewPlan(n)
		require.NoError(t, err)
		assert.Equal(t, n, p.Modules())
	}
}

func TestPlan_Check(t *testing.T) {
	two, _ := NewPlan(2)
	one, _ := NewPlan(1)

	tests := []struct {
		name    string
		plan    Plan
		from    model.Phase
		to      model.Phase
		forced  bool
		crossed bool
		ok      bool
	}{
		{name: "module 1 to review", plan: two, from: model.PhaseModule1, to: model.PhaseReview1, ok: true},
		{name: "review back to open module", plan: two, from: model.PhaseReview1, to: model.PhaseModule1, ok: true},
		{name: "review back to closed module", plan: two, from: model.PhaseReview1, to: model.PhaseModule1, crossed: true},
		{name: "review 1 on to module 2", plan: two, from: model.PhaseReview1, to: model.PhaseModule2, ok: true},
		{name: "module 2 to review", plan: two, from: model.PhaseModule2, to: model.PhaseReview2, ok: true},
		{name: "review 2 back to open module", plan: two, from: model.PhaseReview2, to: model.PhaseModule2, ok: true},
		{name: "review 2 back to closed module", plan: two, from: model.PhaseReview2, to: model.PhaseModule2, crossed: true},
		{name: "review 2 submits", plan: two, from: model.PhaseReview2, to: model.PhaseSubmitted, ok: true},
		{name: "module 2 back to module 1", plan: two, from: model.PhaseModule2, to: model.PhaseModule1},
		{name: "review 2 back to review 1", plan: two, from: model.PhaseReview2, to: model.PhaseReview1},
		{name: "skip review", plan: two, from: model.PhaseModule1, to: model.PhaseModule2},
		{name: "review 1 cannot submit two modules", plan: two, from: model.PhaseReview1, to: model.PhaseSubmitted},
		{name: "forced submit from module", plan: two, from: model.PhaseModule1, to: model.PhaseSubmitted, forced: true, ok: true},
		{name: "nothing leaves submitted", plan: two, from: model.PhaseSubmitted, to: model.PhaseReview2, forced: true},
		{name: "single module review submits", plan: one, from: model.PhaseReview1, to: model.PhaseSubmitted, ok: true},
		{name: "single module has no module 2", plan: one, from: model.PhaseReview1, to: model.PhaseModule2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Check(tt.from, tt.to, tt.forced, tt.crossed)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition)
			}
		})
	}
}

func TestPlan_Helpers(t *testing.T) {
	two, _ := NewPlan(2)
	one, _ := NewPlan(1)

	assert.True(t, two.IsFinal(model.PhaseReview2))
	assert.False(t, two.IsFinal(model.PhaseModule1))
	assert.True(t, one.IsFinal(model.PhaseModule1))

	assert.Equal(t, model.PhaseReview1, two.ReviewOf(model.PhaseModule1))
	assert.Equal(t, model.PhaseReview2, two.ReviewOf(model.PhaseModule2))

	assert.True(t, two.Contains(model.PhaseModule2))
	assert.False(t, one.Contains(model.PhaseReview2))
	assert.True(t, one.Contains(model.PhaseSubmitted))
}
