package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/messaging"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gradingFixture struct {
	svc    *GradingService
	store  *memStore
	buffer *memBuffer
	events *memPublisher
	test   *model.Test
	sub    *model.Submission
}

func newGradingFixture() *gradingFixture {
	f := &gradingFixture{
		store:  newMemStore(),
		buffer: newMemBuffer(),
		events: &memPublisher{},
		test:   twoModuleTest(model.DeliveryModeExam),
	}
	f.svc = NewGradingService(staticTests{f.test.ID: f.test}, f.store, f.buffer, f.events, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC) }
	f.sub = f.store.put(&model.Submission{
		UserID:         7,
		TestID:         f.test.ID,
		Status:         model.SubmissionStatusDoing,
		ViolationCount: 1,
		Phase:          model.PhaseReview2,
	})
	return f
}

func (f *gradingFixture) qid(section, i int) string {
	return f.test.Sections[section].Questions[i].ID.String()
}

func TestGrade(t *testing.T) {
	test := twoModuleTest(model.DeliveryModeExam)
	mcq := test.Sections[0].Questions[0].ID.String()
	spr := test.Sections[0].Questions[1].ID.String()
	last := test.Sections[1].Questions[0].ID.String()

	tests := []struct {
		name      string
		answers   map[string]string
		score     int
		correct   []bool
		selection []*string
	}{
		{
			name:      "all unanswered",
			answers:   map[string]string{},
			score:     0,
			correct:   []bool{false, false, false},
			selection: []*string{nil, nil, nil},
		},
		{
			name:      "all correct with constructed response spacing and case",
			answers:   map[string]string{mcq: "B", spr: "  3/4 ", last: "D"},
			score:     3,
			correct:   []bool{true, true, true},
			selection: []*string{strPtr("B"), strPtr("  3/4 "), strPtr("D")},
		},
		{
			name:      "multiple choice is exact",
			answers:   map[string]string{mcq: "b", spr: "1/2", last: "D"},
			score:     1,
			correct:   []bool{false, false, true},
			selection: []*string{strPtr("b"), strPtr("1/2"), strPtr("D")},
		},
		{
			name:      "blank answer counts as unanswered",
			answers:   map[string]string{mcq: "   ", last: "A"},
			score:     0,
			correct:   []bool{false, false, false},
			selection: []*string{nil, nil, strPtr("A")},
		},
		{
			name:      "answers to unknown questions are ignored",
			answers:   map[string]string{uuid.NewString(): "B", mcq: "B"},
			score:     1,
			correct:   []bool{true, false, false},
			selection: []*string{strPtr("B"), nil, nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subID := uuid.New()
			score, details, graded := Grade(test, subID, tt.answers)

			assert.Equal(t, tt.score, score)
			require.Len(t, details, 3)
			require.Len(t, graded, 3)
			for i, d := range details {
				assert.Equal(t, tt.correct[i], d.IsCorrect, "question %d", i)
				assert.Equal(t, tt.selection[i], d.UserSelected, "question %d", i)
				assert.Equal(t, d.QuestionID, graded[i].QuestionID)
				assert.Equal(t, d.IsCorrect, graded[i].IsCorrect)
				assert.Equal(t, subID, graded[i].SubmissionID)
			}
			assert.Equal(t, "B", details[0].CorrectOption)
			assert.Equal(t, "D", details[2].CorrectOption)
		})
	}
}

func TestSubmit(t *testing.T) {
	f := newGradingFixture()

	res, err := f.svc.Submit(context.Background(), 7, f.test.ID, model.SubmitRequest{
		SubmissionID:   f.sub.ID,
		Answers:        map[string]string{f.qid(0, 0): "B", f.qid(1, 0): "A"},
		ViolationCount: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, model.TerminationSubmitted, res.Reason)

	got := f.store.get(f.sub.ID)
	assert.Equal(t, model.SubmissionStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ViolationCount, "stored count wins when higher")
	assert.Equal(t, model.PhaseSubmitted, got.Phase)
	assert.Len(t, f.store.answers[f.sub.ID], 3)
	assert.Equal(t, []uuid.UUID{f.sub.ID}, f.buffer.cleared)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, messaging.QueueSubmissionCompleted, f.events.events[0].queue)
	assert.Equal(t, 1, f.events.events[0].event.Score)
}

func TestSubmit_FallsBackToStoredAnswers(t *testing.T) {
	f := newGradingFixture()
	f.store.mu.Lock()
	f.store.subs[f.sub.ID].SavedAnswers = map[string]string{f.qid(0, 0): "B"}
	f.store.mu.Unlock()
	f.buffer.answers[f.sub.ID] = map[string]string{f.qid(1, 0): "D"}

	res, err := f.svc.Submit(context.Background(), 7, f.test.ID, model.SubmitRequest{
		SubmissionID: f.sub.ID,
		Reason:       model.TerminationTimeout,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Score)
	assert.Equal(t, model.TerminationTimeout, res.Reason)
}

func TestSubmit_StreamedClearIsNotGraded(t *testing.T) {
	f := newGradingFixture()
	f.store.mu.Lock()
	f.store.subs[f.sub.ID].SavedAnswers = map[string]string{f.qid(0, 0): "B", f.qid(1, 0): "D"}
	f.store.mu.Unlock()
	f.buffer.answers[f.sub.ID] = map[string]string{f.qid(0, 0): ""}

	res, err := f.svc.Submit(context.Background(), 7, f.test.ID, model.SubmitRequest{
		SubmissionID: f.sub.ID,
		Reason:       model.TerminationTimeout,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Score)
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		userID   int
		testID   func(f *gradingFixture) uuid.UUID
		subID    func(f *gradingFixture) uuid.UUID
		expected error
	}{
		{
			name:     "not found",
			userID:   7,
			testID:   func(f *gradingFixture) uuid.UUID { return f.test.ID },
			subID:    func(*gradingFixture) uuid.UUID { return uuid.New() },
			expected: ErrSubmissionNotFound,
		},
		{
			name:     "not owned",
			userID:   9,
			testID:   func(f *gradingFixture) uuid.UUID { return f.test.ID },
			subID:    func(f *gradingFixture) uuid.UUID { return f.sub.ID },
			expected: ErrSubmissionNotOwned,
		},
		{
			name:     "other test",
			userID:   7,
			testID:   func(*gradingFixture) uuid.UUID { return uuid.New() },
			subID:    func(f *gradingFixture) uuid.UUID { return f.sub.ID },
			expected: ErrSubmissionTestMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGradingFixture()
			_, err := f.svc.Submit(context.Background(), tt.userID, tt.testID(f), model.SubmitRequest{
				SubmissionID: tt.subID(f),
			})
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, model.SubmissionStatusDoing, f.store.get(f.sub.ID).Status)
			assert.Empty(t, f.events.events)
		})
	}
}

func TestSubmit_Twice(t *testing.T) {
	f := newGradingFixture()
	req := model.SubmitRequest{SubmissionID: f.sub.ID, Answers: map[string]string{f.qid(0, 0): "B"}}

	_, err := f.svc.Submit(context.Background(), 7, f.test.ID, req)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), 7, f.test.ID, req)
	assert.ErrorIs(t, err, ErrSubmissionCompleted)
	assert.Len(t, f.events.events, 1)
}

func TestSubmit_ConcurrentExactlyOnce(t *testing.T) {
	f := newGradingFixture()
	req := model.SubmitRequest{SubmissionID: f.sub.ID, Answers: map[string]string{f.qid(0, 0): "B"}}

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(context.Background(), 7, f.test.ID, req)
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrSubmissionCompleted)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.events.events, 1)
}

func TestResult(t *testing.T) {
	f := newGradingFixture()
	ctx := context.Background()

	_, err := f.svc.Result(ctx, 7, f.test.ID, f.sub.ID)
	require.ErrorIs(t, err, ErrSubmissionInProgress)

	submitted, err := f.svc.Submit(ctx, 7, f.test.ID, model.SubmitRequest{
		SubmissionID: f.sub.ID,
		Answers:      map[string]string{f.qid(0, 1): "3/4", f.qid(1, 0): "D"},
		Reason:       model.TerminationViolationLimit,
	})
	require.NoError(t, err)

	res, err := f.svc.Result(ctx, 7, f.test.ID, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submitted.Score, res.Score)
	assert.Equal(t, submitted.Total, res.Total)
	assert.Equal(t, model.TerminationViolationLimit, res.Reason)
	assert.Equal(t, submitted.Details, res.Details)

	_, err = f.svc.Result(ctx, 8, f.test.ID, f.sub.ID)
	assert.ErrorIs(t, err, ErrSubmissionNotOwned)
}
