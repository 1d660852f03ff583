package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
)

// WriteGradeRecord stores rec. A record whose ID already exists is left
// untouched, so retrying a write that actually succeeded is harmless. An
// empty ID is filled with a new UUID.
func (s *Store) WriteGradeRecord(ctx context.Context, rec model.GradeRecord) (model.GradeRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grade_records (id, course_id, assessment_id, student_id, attempt, score, max_score, status, feedback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.CourseID), rec.AssessmentID, rec.StudentID, rec.Attempt,
		rec.Score, rec.MaxScore, string(rec.Status), rec.Feedback, rec.CreatedAt,
	)
	if err != nil {
		return model.GradeRecord{}, err
	}
	return rec, nil
}

// GradeFilter narrows ListGrades. Empty fields mean no filtering on that field.
type GradeFilter struct {
	CourseID     model.CourseID
	StudentID    string
	AssessmentID string
}

// ListGrades returns grade records matching f, oldest first.
func (s *Store) ListGrades(ctx context.Context, f GradeFilter) ([]model.GradeRecord, error) {
	query := `SELECT id, course_id, assessment_id, student_id, attempt, score, max_score, status, feedback, created_at
		FROM grade_records WHERE 1=1`
	var args []any
	add := func(column, value string) {
		args = append(args, value)
		query += fmt.Sprintf(` AND %s = $%d`, column, len(args))
	}
	if f.CourseID != "" {
		add("course_id", string(f.CourseID))
	}
	if f.StudentID != "" {
		add("student_id", f.StudentID)
	}
	if f.AssessmentID != "" {
		add("assessment_id", f.AssessmentID)
	}
	query += ` ORDER BY created_at, attempt`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.GradeRecord
	for rows.Next() {
		var (
			r        model.GradeRecord
			courseID string
			status   string
		)
		if err := rows.Scan(&r.ID, &courseID, &r.AssessmentID, &r.StudentID, &r.Attempt,
			&r.Score, &r.MaxScore, &status, &r.Feedback, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CourseID = model.CourseID(courseID)
		r.Status = model.GradeStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}
