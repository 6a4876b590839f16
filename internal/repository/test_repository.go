package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// TestRepository handles read access to test definitions.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetWithQuestions loads a test with its sections and questions in order.
// Returns pgx.ErrNoRows when the test does not exist.
func (r *TestRepository) GetWithQuestions(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, author_id, mode, created_at
		 FROM tests
		 WHERE id = $1`, testID,
	).Scan(&t.ID, &t.Title, &t.AuthorID, &t.Mode, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, title, order_num, duration_minutes
		 FROM sections
		 WHERE test_id = $1
		 ORDER BY order_num ASC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.TestID, &s.Title, &s.OrderNum, &s.DurationMinutes); err != nil {
			return nil, err
		}
		index[s.ID] = len(t.Sections)
		t.Sections = append(t.Sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(t.Sections) == 0 {
		return t, nil
	}

	qRows, err := r.pool.Query(ctx,
		`SELECT q.id, q.section_id, q.question_type, q.content, q.correct_answer, q.order_num
		 FROM questions q
		 JOIN sections s ON s.id = q.section_id
		 WHERE s.test_id = $1
		 ORDER BY s.order_num ASC, q.order_num ASC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer qRows.Close()

	for qRows.Next() {
		var q model.Question
		if err := qRows.Scan(&q.ID, &q.SectionID, &q.QuestionType, &q.Content, &q.CorrectAnswer, &q.OrderNum); err != nil {
			return nil, err
		}
		if i, ok := index[q.SectionID]; ok {
			t.Sections[i].Questions = append(t.Sections[i].Questions, q)
		}
	}

	return t, qRows.Err()
}
