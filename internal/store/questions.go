package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// GetGeneratedQuestion returns the question generated for one attempt, or
// nil if there is none.
func (s *Store) GetGeneratedQuestion(ctx context.Context, studentID, assessmentID string, attempt int) (*model.GeneratedQuestion, error) {
	q := model.GeneratedQuestion{StudentID: studentID, AssessmentID: assessmentID, Attempt: attempt}
	var options string
	err := s.db.QueryRowContext(ctx,
		`SELECT question_text, options_json, correct_answer, explanation, created_at
		 FROM generated_questions WHERE student_id = $1 AND assessment_id = $2 AND attempt = $3`,
		studentID, assessmentID, attempt,
	).Scan(&q.QuestionText, &options, &q.CorrectAnswer, &q.Explanation, &q.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return nil, fmt.Errorf("decode options of %s attempt %d: %w", assessmentID, attempt, err)
	}
	return &q, nil
}

// SaveGeneratedQuestion inserts q unless a question already exists for the
// same student, assessment and attempt. It reports whether q was stored.
func (s *Store) SaveGeneratedQuestion(ctx context.Context, q model.GeneratedQuestion) (bool, error) {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return false, fmt.Errorf("encode options: %w", err)
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO generated_questions (student_id, assessment_id, attempt, question_text, options_json, correct_answer, explanation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (student_id, assessment_id, attempt) DO NOTHING`,
		q.StudentID, q.AssessmentID, q.Attempt, q.QuestionText, string(options), q.CorrectAnswer, q.Explanation, q.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
