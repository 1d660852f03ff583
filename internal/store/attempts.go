package store

import (
	"context"
	"math"
	"time"
)

// AttemptCount returns how many attempts the student has been admitted to.
func (s *Store) AttemptCount(ctx context.Context, studentID, assessmentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_count FROM attempts WHERE student_id = $1 AND assessment_id = $2`,
		studentID, assessmentID,
	).Scan(&count)
	if isNoRows(err) {
		return 0, nil
	}
	return count, err
}

// IncrementAttemptIfUnderLimit admits one more attempt when fewer than limit
// have been used, and returns the new attempt number. The check and the
// increment are one statement, so concurrent callers cannot both take the
// last attempt. A limit <= 0 means unlimited.
func (s *Store) IncrementAttemptIfUnderLimit(ctx context.Context, studentID, assessmentID string, limit int) (int, bool, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO attempts (student_id, assessment_id, attempt_count, updated_at)
		 VALUES ($1, $2, 1, $3)
		 ON CONFLICT (student_id, assessment_id) DO UPDATE
		 SET attempt_count = attempts.attempt_count + 1, updated_at = excluded.updated_at
		 WHERE attempts.attempt_count < $4
		 RETURNING attempt_count`,
		studentID, assessmentID, time.Now().UTC(), limit,
	).Scan(&count)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// ReleaseAttempt gives back an admitted attempt that produced no grade.
func (s *Store) ReleaseAttempt(ctx context.Context, studentID, assessmentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET attempt_count = attempt_count - 1, updated_at = $3
		 WHERE student_id = $1 AND assessment_id = $2 AND attempt_count > 0`,
		studentID, assessmentID, time.Now().UTC(),
	)
	return err
}
