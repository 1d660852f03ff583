// Package dispatch routes a submission to the handler registered for its
// assessment, enforces attempt limits, and records the grade.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/course"
	"github.com/pavelanni/assessor/internal/model"
)

// Request is one submission at the dispatch boundary.
type Request struct {
	CourseID     model.CourseID  `json:"courseId" validate:"required"`
	AssessmentID string          `json:"assessmentId" validate:"required"`
	StudentID    string          `json:"studentId" validate:"required"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Resolver finds the handler for an assessment.
type Resolver interface {
	Resolve(courseID model.CourseID, assessmentID string) (string, error)
	Load(courseID model.CourseID, module, assessmentID string) (assessment.Handler, error)
}

// CourseSource provides course configurations.
type CourseSource interface {
	GetCourseConfig(courseID model.CourseID) (*model.CourseConfig, error)
}

// AttemptStore counts admitted attempts. IncrementAttemptIfUnderLimit must
// be atomic; a limit <= 0 means unlimited.
type AttemptStore interface {
	AttemptCount(ctx context.Context, studentID, assessmentID string) (int, error)
	IncrementAttemptIfUnderLimit(ctx context.Context, studentID, assessmentID string, limit int) (int, bool, error)
	ReleaseAttempt(ctx context.Context, studentID, assessmentID string) error
}

// GradeWriter persists grade records. Writing a record whose ID exists must
// be a no-op.
type GradeWriter interface {
	WriteGradeRecord(ctx context.Context, rec model.GradeRecord) (model.GradeRecord, error)
}

// Config wires a Dispatcher.
type Config struct {
	Handlers  Resolver
	Courses   CourseSource
	Attempts  AttemptStore
	Grades    GradeWriter
	Questions assessment.QuestionStore
	Generator assessment.Generator
	// GradeWriteRetries bounds the retries of a failed grade write.
	GradeWriteRetries int
}

type Dispatcher struct {
	handlers  Resolver
	courses   CourseSource
	attempts  AttemptStore
	grades    GradeWriter
	questions assessment.QuestionStore
	generator assessment.Generator

	writeRetries  uint64
	writeInterval time.Duration
}

var validate = validator.New()

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	retries := cfg.GradeWriteRetries
	if retries < 0 {
		retries = 0
	}
	return &Dispatcher{
		handlers:      cfg.Handlers,
		courses:       cfg.Courses,
		attempts:      cfg.Attempts,
		grades:        cfg.Grades,
		questions:     cfg.Questions,
		generator:     cfg.Generator,
		writeRetries:  uint64(retries),
		writeInterval: 100 * time.Millisecond,
	}
}

// Dispatch grades one submission: resolve, load, validate the payload, admit
// the attempt, grade, and record the grade. An admitted attempt that ends
// without a stored grade is released.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (model.GradingResult, error) {
	if err := checkRequest(req); err != nil {
		return model.GradingResult{}, err
	}
	h, err := d.handler(req)
	if err != nil {
		return model.GradingResult{}, err
	}
	sub := submission(req)
	if err := h.Validate(sub); err != nil {
		return model.GradingResult{}, err
	}
	limit, err := d.limit(req)
	if err != nil {
		return model.GradingResult{}, err
	}

	attempt, admitted, err := d.attempts.IncrementAttemptIfUnderLimit(ctx, req.StudentID, req.AssessmentID, limit)
	if err != nil {
		return model.GradingResult{}, model.Errorf(model.KindPersistence, "record attempt: %w", err)
	}
	if !admitted {
		slog.Info("attempt refused", "course_id", req.CourseID, "assessment_id", req.AssessmentID, "student_id", req.StudentID, "limit", limit)
		return model.GradingResult{}, model.Errorf(model.KindAttemptLimitExceeded,
			"attempt limit of %d reached for %s", limit, req.AssessmentID)
	}
	log := slog.With("course_id", req.CourseID, "assessment_id", req.AssessmentID, "student_id", req.StudentID, "attempt", attempt)

	result, err := h.Grade(ctx, sub, d.env(req, attempt))
	if err != nil {
		d.release(ctx, req, "grading failed")
		return model.GradingResult{}, err
	}
	if err := ctx.Err(); err != nil {
		d.release(ctx, req, "request cancelled")
		return model.GradingResult{}, fmt.Errorf("dispatch %s: %w", req.AssessmentID, err)
	}

	// From here on the grade is written even if the caller goes away.
	rec := model.GradeRecord{
		ID:           uuid.NewString(),
		CourseID:     req.CourseID,
		AssessmentID: req.AssessmentID,
		StudentID:    req.StudentID,
		Attempt:      attempt,
		Score:        result.Score,
		MaxScore:     result.MaxScore,
		Status:       result.Status,
		Feedback:     result.Feedback,
		CreatedAt:    time.Now().UTC(),
	}
	if err := d.writeGrade(context.WithoutCancel(ctx), rec); err != nil {
		d.release(ctx, req, "grade write failed")
		return model.GradingResult{}, err
	}

	log.Info("graded", "score", result.Score, "max_score", result.MaxScore, "status", result.Status)
	return result, nil
}

// Prepare returns the prompt for the student's next attempt without
// consuming it.
func (d *Dispatcher) Prepare(ctx context.Context, req Request) (assessment.Prompt, error) {
	if err := checkRequest(req); err != nil {
		return assessment.Prompt{}, err
	}
	h, err := d.handler(req)
	if err != nil {
		return assessment.Prompt{}, err
	}
	limit, err := d.limit(req)
	if err != nil {
		return assessment.Prompt{}, err
	}
	used, err := d.attempts.AttemptCount(ctx, req.StudentID, req.AssessmentID)
	if err != nil {
		return assessment.Prompt{}, model.Errorf(model.KindPersistence, "read attempts: %w", err)
	}
	if limit > 0 && used >= limit {
		return assessment.Prompt{}, model.Errorf(model.KindAttemptLimitExceeded,
			"attempt limit of %d reached for %s", limit, req.AssessmentID)
	}
	return h.Prepare(ctx, submission(req), d.env(req, used+1))
}

// AttemptStatus reports a student's attempts on one assessment. Limit and
// Remaining are nil when attempts are unlimited.
type AttemptStatus struct {
	Used      int  `json:"used"`
	Limit     *int `json:"limit"`
	Unlimited bool `json:"unlimited"`
	Remaining *int `json:"remaining"`
}

// Attempts reports how many attempts the student has used and has left.
func (d *Dispatcher) Attempts(ctx context.Context, studentID string, courseID model.CourseID, assessmentID string) (AttemptStatus, error) {
	req := Request{CourseID: courseID, AssessmentID: assessmentID, StudentID: studentID}
	if err := checkRequest(req); err != nil {
		return AttemptStatus{}, err
	}
	if _, err := d.handlers.Resolve(courseID, assessmentID); err != nil {
		return AttemptStatus{}, err
	}
	limit, err := d.limit(req)
	if err != nil {
		return AttemptStatus{}, err
	}
	used, err := d.attempts.AttemptCount(ctx, studentID, assessmentID)
	if err != nil {
		return AttemptStatus{}, model.Errorf(model.KindPersistence, "read attempts: %w", err)
	}

	st := AttemptStatus{Used: used, Unlimited: limit <= 0}
	if !st.Unlimited {
		remaining := max(limit-used, 0)
		st.Limit = &limit
		st.Remaining = &remaining
	}
	return st, nil
}

func (d *Dispatcher) handler(req Request) (assessment.Handler, error) {
	module, err := d.handlers.Resolve(req.CourseID, req.AssessmentID)
	if err != nil {
		return nil, err
	}
	return d.handlers.Load(req.CourseID, module, req.AssessmentID)
}

// limit returns the attempt limit for the request, 0 meaning unlimited. An
// assessment missing from the course structure is refused rather than
// treated as unlimited.
func (d *Dispatcher) limit(req Request) (int, error) {
	cfg, err := d.courses.GetCourseConfig(req.CourseID)
	if err != nil {
		return 0, err
	}
	l := course.LookupAttemptLimit(cfg, req.AssessmentID)
	switch l.Outcome {
	case course.LimitConfigured:
		return l.Max, nil
	case course.LimitUnlimited:
		return 0, nil
	default:
		return 0, model.Errorf(model.KindMappingNotFound,
			"assessment %s is not part of course %s structure", req.AssessmentID, req.CourseID)
	}
}

func (d *Dispatcher) env(req Request, attempt int) assessment.Env {
	return assessment.Env{
		CourseID:  req.CourseID,
		StudentID: req.StudentID,
		Attempt:   attempt,
		Questions: d.questions,
		Generator: d.generator,
	}
}

func (d *Dispatcher) release(ctx context.Context, req Request, reason string) {
	if err := d.attempts.ReleaseAttempt(context.WithoutCancel(ctx), req.StudentID, req.AssessmentID); err != nil {
		slog.Error("release attempt", "assessment_id", req.AssessmentID, "student_id", req.StudentID, "reason", reason, "error", err)
		return
	}
	slog.Info("attempt released", "assessment_id", req.AssessmentID, "student_id", req.StudentID, "reason", reason)
}

// writeGrade retries a failed write with exponential backoff. The record ID
// is fixed before the first try, so a retry after an ambiguous failure
// cannot store the grade twice.
func (d *Dispatcher) writeGrade(ctx context.Context, rec model.GradeRecord) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.writeInterval
	b.MaxElapsedTime = 0

	tries := 0
	err := backoff.RetryNotify(func() error {
		tries++
		_, err := d.grades.WriteGradeRecord(ctx, rec)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, d.writeRetries), ctx), func(err error, wait time.Duration) {
		slog.Warn("grade write failed, retrying", "grade_id", rec.ID, "attempt", tries, "wait", wait, "error", err)
	})
	if err != nil {
		return model.Errorf(model.KindPersistence, "write grade record after %d attempts: %w", tries, err)
	}
	return nil
}

func checkRequest(req Request) error {
	if err := validate.Struct(req); err != nil {
		return model.Errorf(model.KindValidation, "invalid request: %w", err)
	}
	return nil
}

func submission(req Request) assessment.Submission {
	return assessment.Submission{StudentID: req.StudentID, AssessmentID: req.AssessmentID, Payload: req.Payload}
}
