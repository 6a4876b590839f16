package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ErrNotActive is returned when a conditional write finds no DOING row to update.
var ErrNotActive = errors.New("submission is not in progress")

const submissionColumns = `id, user_id, test_id, status, started_at, time_left_seconds,
	current_question_index, saved_answers, violation_count, phase, module2_started_at,
	score, total, end_time, termination_reason, created_at, updated_at`

// CheckpointUpdate is an in-progress snapshot written by the owner of a submission.
type CheckpointUpdate struct {
	SubmissionID         uuid.UUID
	UserID               int
	TestID               uuid.UUID
	Answers              map[string]string
	TimeLeftSeconds      int
	CurrentQuestionIndex int
	ViolationCount       int
	Phase                model.Phase
	Module2StartedAt     *time.Time
}

// Finalization is the terminal write of a graded submission.
type Finalization struct {
	SubmissionID   uuid.UUID
	UserID         int
	Answers        map[string]string
	ViolationCount int
	Score          int
	Total          int
	Reason         model.TerminationReason
	EndTime        time.Time
	Graded         []model.Answer
}

// ExpiredSubmission identifies an abandoned EXAM attempt.
type ExpiredSubmission struct {
	ID     uuid.UUID
	UserID int
	TestID uuid.UUID
}

// SubmissionRepository handles submission and answer data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	var answers []byte
	var reason *string
	err := row.Scan(
		&s.ID, &s.UserID, &s.TestID, &s.Status, &s.StartedAt, &s.TimeLeftSeconds,
		&s.CurrentQuestionIndex, &answers, &s.ViolationCount, &s.Phase, &s.Module2StartedAt,
		&s.Score, &s.Total, &s.EndTime, &reason, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SavedAnswers = map[string]string{}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &s.SavedAnswers); err != nil {
			return nil, fmt.Errorf("decode saved answers: %w", err)
		}
	}
	if reason != nil {
		r := model.TerminationReason(*reason)
		s.TerminationReason = &r
	}
	return s, nil
}

// FindActive returns the DOING submission for a user and test.
// Returns pgx.ErrNoRows when there is none.
func (r *SubmissionRepository) FindActive(ctx context.Context, userID int, testID uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE user_id = $1 AND test_id = $2 AND status = 'DOING'`, userID, testID,
	))
}

// GetByID retrieves a submission by id. Returns pgx.ErrNoRows when missing.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE id = $1`, id,
	))
}

// Create inserts a new DOING submission. The partial unique index on
// (user_id, test_id) WHERE status = 'DOING' turns a concurrent create into
// pgx.ErrNoRows; the caller re-reads the winner.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submissions (user_id, test_id, status, started_at, time_left_seconds,
		                          current_question_index, saved_answers, violation_count, phase)
		 VALUES ($1, $2, 'DOING', $3, $4, 0, '{}'::jsonb, 0, $5)
		 ON CONFLICT (user_id, test_id) WHERE status = 'DOING' DO NOTHING
		 RETURNING id, created_at, updated_at`,
		s.UserID, s.TestID, s.StartedAt, s.TimeLeftSeconds, model.PhaseModule1,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// Retire force-completes an abandoned attempt with a zero score.
// Returns ErrNotActive if the submission already left DOING.
func (r *SubmissionRepository) Retire(ctx context.Context, id uuid.UUID, total int, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = 'COMPLETED', score = 0, total = $2, end_time = $3,
		     termination_reason = $4, phase = $5, time_left_seconds = 0, updated_at = NOW()
		 WHERE id = $1 AND status = 'DOING'`,
		id, total, at, model.TerminationExpired, model.PhaseSubmitted,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// SaveCheckpoint writes an in-progress snapshot. The write only lands on a
// DOING row owned by the caller for the stated test; anything else yields
// ErrNotActive. violation_count never decreases, module2_started_at is set
// once, and phase follows model.MergePhase.
func (r *SubmissionRepository) SaveCheckpoint(ctx context.Context, cp CheckpointUpdate) error {
	answers := cp.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET saved_answers = $4::jsonb,
		     time_left_seconds = $5,
		     current_question_index = $6,
		     violation_count = GREATEST(violation_count, $7),
		     phase = CASE
		         WHEN $8::text = '' THEN phase
		         WHEN phase = 'SUBMITTED' THEN phase
		         WHEN $8::text = 'SUBMITTED' THEN phase
		         WHEN $9::int >= (CASE phase WHEN 'MODULE_2' THEN 2 WHEN 'REVIEW_2' THEN 2 ELSE 1 END) THEN $8::text
		         ELSE phase
		     END,
		     module2_started_at = COALESCE(module2_started_at, $10::timestamptz),
		     checkpointed_at = NOW(),
		     updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND test_id = $3 AND status = 'DOING'`,
		cp.SubmissionID, cp.UserID, cp.TestID, string(raw), cp.TimeLeftSeconds,
		cp.CurrentQuestionIndex, cp.ViolationCount, string(cp.Phase), cp.Phase.Module(),
		cp.Module2StartedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// MergeAutosave folds streamed answers into saved_answers of a DOING row.
// An empty value removes the answer. Answers streamed before the latest
// checkpoint are stale and skipped.
func (r *SubmissionRepository) MergeAutosave(ctx context.Context, id uuid.UUID, answers map[string]string, streamedAt time.Time) error {
	set := make(map[string]string, len(answers))
	cleared := []string{}
	for qid, v := range answers {
		if v == "" {
			cleared = append(cleared, qid)
			continue
		}
		set[qid] = v
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE submissions
		 SET saved_answers = (saved_answers || $2::jsonb) - $4::text[], updated_at = NOW()
		 WHERE id = $1 AND status = 'DOING'
		   AND (checkpointed_at IS NULL OR checkpointed_at <= $3)`,
		id, string(raw), streamedAt, cleared,
	)
	return err
}

// Finalize seals a submission and writes its graded answers in one
// transaction. Returns ErrNotActive if another submit already won.
func (r *SubmissionRepository) Finalize(ctx context.Context, f Finalization) error {
	raw, err := json.Marshal(f.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE submissions
		 SET status = 'COMPLETED',
		     end_time = $3,
		     violation_count = GREATEST(violation_count, $4),
		     saved_answers = $5::jsonb,
		     score = $6,
		     total = $7,
		     termination_reason = $8,
		     phase = $9,
		     updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status = 'DOING'`,
		f.SubmissionID, f.UserID, f.EndTime, f.ViolationCount, string(raw),
		f.Score, f.Total, f.Reason, model.PhaseSubmitted,
	)
	if err != nil {
		return fmt.Errorf("complete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}

	rows := make([][]any, 0, len(f.Graded))
	for _, a := range f.Graded {
		rows = append(rows, []any{a.SubmissionID, a.QuestionID, a.SelectedValue, a.IsCorrect, f.EndTime})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"answers"},
		[]string{"submission_id", "question_id", "selected_value", "is_correct", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("insert answers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListAnswers returns the graded answers of a submission.
func (r *SubmissionRepository) ListAnswers(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT submission_id, question_id, selected_value, is_correct, created_at
		 FROM answers
		 WHERE submission_id = $1`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.SubmissionID, &a.QuestionID, &a.SelectedValue, &a.IsCorrect, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ListExpired returns DOING attempts on EXAM tests whose deadline plus grace
// has passed at the given instant.
func (r *SubmissionRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]ExpiredSubmission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, s.test_id
		 FROM submissions s
		 JOIN tests t ON t.id = s.test_id
		 WHERE s.status = 'DOING'
		   AND t.mode = 'EXAM'
		   AND s.started_at
		       + make_interval(mins => (SELECT COALESCE(SUM(duration_minutes), 0)::int FROM sections WHERE test_id = t.id))
		       + make_interval(secs => $2)
		       < $1
		 ORDER BY s.started_at ASC
		 LIMIT $3`,
		now, grace.Seconds(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpiredSubmission
	for rows.Next() {
		var e ExpiredSubmission
		if err := rows.Scan(&e.ID, &e.UserID, &e.TestID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
