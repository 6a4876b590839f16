package service

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// memStore is an in-memory SubmissionStore with the same conditional
// semantics as the PostgreSQL repository.
type memStore struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]*model.Submission
	answers map[uuid.UUID][]model.Answer

	// beforeCreate runs inside Create before the uniqueness check.
	beforeCreate func()
	retired      []uuid.UUID
	expired      []repository.ExpiredSubmission
}

func newMemStore() *memStore {
	return &memStore{
		subs:    map[uuid.UUID]*model.Submission{},
		answers: map[uuid.UUID][]model.Answer{},
	}
}

func (m *memStore) put(s *model.Submission) *model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.SavedAnswers == nil {
		s.SavedAnswers = map[string]string{}
	}
	m.subs[s.ID] = s
	return s
}

func (m *memStore) get(id uuid.UUID) *model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.subs[id]
	cp.SavedAnswers = maps.Clone(cp.SavedAnswers)
	return &cp
}

func (m *memStore) FindActive(_ context.Context, userID int, testID uuid.UUID) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == userID && s.TestID == testID && s.Status == model.SubmissionStatusDoing {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, s *model.Submission) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.subs {
		if o.UserID == s.UserID && o.TestID == s.TestID && o.Status == model.SubmissionStatusDoing {
			return pgx.ErrNoRows
		}
	}
	s.ID = uuid.New()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *memStore) Retire(_ context.Context, id uuid.UUID, total int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status != model.SubmissionStatusDoing {
		return repository.ErrNotActive
	}
	zero := 0
	reason := model.TerminationExpired
	s.Status = model.SubmissionStatusCompleted
	s.Score, s.Total = &zero, &total
	s.EndTime = &at
	s.TerminationReason = &reason
	s.Phase = model.PhaseSubmitted
	m.retired = append(m.retired, id)
	return nil
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp repository.CheckpointUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[cp.SubmissionID]
	if !ok || s.UserID != cp.UserID || s.TestID != cp.TestID || s.Status != model.SubmissionStatusDoing {
		return repository.ErrNotActive
	}
	s.SavedAnswers = maps.Clone(cp.Answers)
	s.TimeLeftSeconds = cp.TimeLeftSeconds
	s.CurrentQuestionIndex = cp.CurrentQuestionIndex
	s.ViolationCount = max(s.ViolationCount, cp.ViolationCount)
	s.Phase = model.MergePhase(s.Phase, cp.Phase)
	if s.Module2StartedAt == nil {
		s.Module2StartedAt = cp.Module2StartedAt
	}
	return nil
}

func (m *memStore) Finalize(_ context.Context, f repository.Finalization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[f.SubmissionID]
	if !ok || s.UserID != f.UserID || s.Status != model.SubmissionStatusDoing {
		return repository.ErrNotActive
	}
	s.Status = model.SubmissionStatusCompleted
	s.SavedAnswers = maps.Clone(f.Answers)
	s.ViolationCount = f.ViolationCount
	s.Score, s.Total = &f.Score, &f.Total
	s.EndTime = &f.EndTime
	s.TerminationReason = &f.Reason
	s.Phase = model.PhaseSubmitted
	m.answers[f.SubmissionID] = f.Graded
	return nil
}

func (m *memStore) ListAnswers(_ context.Context, id uuid.UUID) ([]model.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers[id], nil
}

func (m *memStore) ListExpired(_ context.Context, _ time.Time, _ time.Duration, limit int) ([]repository.ExpiredSubmission, error) {
	if len(m.expired) > limit {
		return m.expired[:limit], nil
	}
	return m.expired, nil
}

// staticTests serves fixed tests.
type staticTests map[uuid.UUID]*model.Test

func (t staticTests) Get(_ context.Context, id uuid.UUID) (*model.Test, error) {
	test, ok := t[id]
	if !ok {
		return nil, ErrTestNotFound
	}
	return test, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]uuid.UUID{}}
}

func (m *memIdempotency) Lookup(_ context.Context, userID int, testID uuid.UUID, key string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[idemKey(userID, testID, key)]
	return id, ok, nil
}

func (m *memIdempotency) Remember(_ context.Context, userID int, testID uuid.UUID, key string, id uuid.UUID, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(userID, testID, key)
	if _, ok := m.keys[k]; !ok {
		m.keys[k] = id
	}
	return nil
}

func idemKey(userID int, testID uuid.UUID, key string) string {
	b, _ := json.Marshal([]any{userID, testID, key})
	return string(b)
}

type memBuffer struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[string]string
	cleared []uuid.UUID
}

func newMemBuffer() *memBuffer {
	return &memBuffer{answers: map[uuid.UUID]map[string]string{}}
}

func (b *memBuffer) AutosavedAnswers(_ context.Context, id uuid.UUID) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.answers[id]), nil
}

func (b *memBuffer) ClearAnswers(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.answers, id)
	b.cleared = append(b.cleared, id)
	return nil
}

type published struct {
	queue string
	event SubmissionEvent
}

type memPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *memPublisher) Publish(_ context.Context, queue string, body []byte) error {
	var ev SubmissionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{queue: queue, event: ev})
	return nil
}

// ─── Fixtures ───────────────────────────────────────────────────────

func strPtr(s string) *string { return &s }

// twoModuleTest builds a test with sections of 2 and 1 questions.
func twoModuleTest(mode model.DeliveryMode) *model.Test {
	testID := uuid.New()
	q := func(qt model.QuestionType, key string, order int) model.Question {
		return model.Question{
			ID:            uuid.New(),
			QuestionType:  qt,
			Content:       json.RawMessage(`{"text":"?"}`),
			CorrectAnswer: key,
			OrderNum:      order,
		}
	}
	return &model.Test{
		ID:    testID,
		Title: "Try Out",
		Mode:  mode,
		Sections: []model.Section{
			{
				ID: uuid.New(), TestID: testID, Title: "Reading", OrderNum: 1, DurationMinutes: 32,
				Questions: []model.Question{q(model.QuestionTypeMCQ, "B", 1), q(model.QuestionTypeSPR, "3/4", 2)},
			},
			{
				ID: uuid.New(), TestID: testID, Title: "Math", OrderNum: 2, DurationMinutes: 35,
				Questions: []model.Question{q(model.QuestionTypeMCQ, "D", 1)},
			},
		},
	}
}
