package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/course"
	"github.com/pavelanni/assessor/internal/courses"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/registry"
)

// fakeAttempts is an in-memory AttemptStore whose increment is atomic under
// its mutex.
type fakeAttempts struct {
	mu       sync.Mutex
	counts   map[string]int
	released int
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{counts: map[string]int{}}
}

func (f *fakeAttempts) AttemptCount(_ context.Context, studentID, assessmentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[studentID+"|"+assessmentID], nil
}

func (f *fakeAttempts) IncrementAttemptIfUnderLimit(_ context.Context, studentID, assessmentID string, limit int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := studentID + "|" + assessmentID
	if limit > 0 && f.counts[k] >= limit {
		return 0, false, nil
	}
	f.counts[k]++
	return f.counts[k], true, nil
}

func (f *fakeAttempts) ReleaseAttempt(_ context.Context, studentID, assessmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := studentID + "|" + assessmentID
	if f.counts[k] > 0 {
		f.counts[k]--
	}
	f.released++
	return nil
}

// fakeGrades stores records by ID and fails the first failN writes.
type fakeGrades struct {
	mu      sync.Mutex
	records map[string]model.GradeRecord
	failN   int
	writes  int
}

func newFakeGrades() *fakeGrades {
	return &fakeGrades{records: map[string]model.GradeRecord{}}
}

func (f *fakeGrades) WriteGradeRecord(ctx context.Context, rec model.GradeRecord) (model.GradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if err := ctx.Err(); err != nil {
		return model.GradeRecord{}, err
	}
	if f.writes <= f.failN {
		return model.GradeRecord{}, errors.New("database is locked")
	}
	if _, ok := f.records[rec.ID]; !ok {
		f.records[rec.ID] = rec
	}
	return rec, nil
}

func (f *fakeGrades) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fixture struct {
	d        *Dispatcher
	attempts *fakeAttempts
	grades   *fakeGrades
	reg      *registry.Registry
	courses  *course.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	if err := courses.RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	store := course.NewStore()
	if err := store.LoadDir("../../courses"); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	f := &fixture{attempts: newFakeAttempts(), grades: newFakeGrades(), reg: reg, courses: store}
	f.d = New(Config{
		Handlers:          reg,
		Courses:           store,
		Attempts:          f.attempts,
		Grades:            f.grades,
		GradeWriteRetries: 3,
	})
	f.d.writeInterval = time.Millisecond
	return f
}

func request(courseID model.CourseID, assessmentID, payload string) Request {
	return Request{CourseID: courseID, AssessmentID: assessmentID, StudentID: "student-x", Payload: json.RawMessage(payload)}
}

const fullLab = `{"sections": {"hypothesis": "h", "observations": "o", "analysis": "a", "conclusion": "c"}}`

func TestDispatchGrades(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		wantScore  float64
		wantStatus model.GradeStatus
	}{
		{"mc correct", request("2", "course2_01_quiz", `{"answer": "B"}`), 1, model.StatusCorrect},
		{"mc incorrect", request("2", "course2_01_quiz", `{"answer": "A"}`), 0, model.StatusIncorrect},
		{"lab at threshold", request("2", "course2_lab_electrostatic", `{"sections": {"hypothesis": "h", "observations": "o", "analysis": "a"}}`), 15, model.StatusComplete},
		{"course 5 quiz", request("5", "course5_01_newton", `{"answer": "B"}`), 1, model.StatusCorrect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			got, err := f.d.Dispatch(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if got.Score != tt.wantScore || got.Status != tt.wantStatus {
				t.Errorf("Dispatch = %+v, want score %v status %s", got, tt.wantScore, tt.wantStatus)
			}
			if f.grades.count() != 1 {
				t.Errorf("expected one grade record, got %d", f.grades.count())
			}
			for _, rec := range f.grades.records {
				if rec.Attempt != 1 || rec.StudentID != "student-x" || rec.CourseID != tt.req.CourseID || rec.ID == "" {
					t.Errorf("grade record = %+v", rec)
				}
			}
		})
	}
}

func TestDispatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		wantKind model.ErrorKind
	}{
		{"unmapped assessment", request("5", "course5_99_unknown", `{}`), model.KindMappingNotFound},
		{"unknown course", request("8", "course8_01", `{}`), model.KindCourseNotFound},
		{"missing student", Request{CourseID: "2", AssessmentID: "course2_01_quiz", Payload: json.RawMessage(`{"answer": "B"}`)}, model.KindValidation},
		{"malformed payload", request("2", "course2_01_quiz", `{"answer": 3}`), model.KindValidation},
		{"empty payload", request("2", "course2_01_quiz", ``), model.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.d.Dispatch(context.Background(), tt.req)
			if model.KindOf(err) != tt.wantKind {
				t.Fatalf("Dispatch error = %v, want kind %s", err, tt.wantKind)
			}
			if n, _ := f.attempts.AttemptCount(context.Background(), "student-x", tt.req.AssessmentID); n != 0 {
				t.Errorf("a rejected request consumed an attempt (count %d)", n)
			}
			if f.grades.count() != 0 {
				t.Error("a rejected request wrote a grade")
			}
		})
	}
}

func TestDispatchEnforcesAttemptLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := request("2", "course2_lab_electrostatic", fullLab)

	for i := 0; i < 2; i++ {
		if _, err := f.d.Dispatch(ctx, req); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := f.d.Dispatch(ctx, req)
	if !errors.Is(err, model.ErrAttemptLimitExceeded) {
		t.Fatalf("third attempt = %v, want attempt limit exceeded", err)
	}
	if f.grades.count() != 2 {
		t.Errorf("refused attempt changed grades: %d records", f.grades.count())
	}

	st, err := f.d.Attempts(ctx, "student-x", "2", "course2_lab_electrostatic")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if st.Used != 2 || st.Unlimited || *st.Limit != 2 || *st.Remaining != 0 {
		t.Errorf("Attempts = %+v", st)
	}
}

func TestConcurrentDispatchOneAttemptLeft(t *testing.T) {
	f := newFixture(t)
	// Course 5 allows one quiz attempt.
	req := request("5", "course5_01_newton", `{"answer": "B"}`)

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = f.d.Dispatch(context.Background(), req)
			return nil
		})
	}
	g.Wait()

	var admitted, refused int
	for _, err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, model.ErrAttemptLimitExceeded):
			refused++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if admitted != 1 || refused != 1 {
		t.Errorf("admitted %d, refused %d; want 1 and 1", admitted, refused)
	}
}

func TestDispatchRetriesGradeWrite(t *testing.T) {
	f := newFixture(t)
	f.grades.failN = 2
	if _, err := f.d.Dispatch(context.Background(), request("2", "course2_01_quiz", `{"answer": "B"}`)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.grades.writes != 3 || f.grades.count() != 1 {
		t.Errorf("writes = %d, records = %d; want 3 and 1", f.grades.writes, f.grades.count())
	}
}

func TestDispatchGradeWriteGivesUp(t *testing.T) {
	f := newFixture(t)
	f.grades.failN = 100
	_, err := f.d.Dispatch(context.Background(), request("2", "course2_01_quiz", `{"answer": "B"}`))
	if !errors.Is(err, model.ErrPersistence) {
		t.Fatalf("Dispatch = %v, want persistence error", err)
	}
	if f.grades.writes != 4 {
		t.Errorf("writes = %d, want 4 (one try plus three retries)", f.grades.writes)
	}
	if n, _ := f.attempts.AttemptCount(context.Background(), "student-x", "course2_01_quiz"); n != 0 {
		t.Errorf("attempt not released after failed write (count %d)", n)
	}
}

// stubHandler lets tests control grading.
type stubHandler struct {
	grade func(ctx context.Context) (model.GradingResult, error)
}

func (stubHandler) Kind() assessment.Kind                { return "stub" }
func (stubHandler) MaxScore() float64                    { return 1 }
func (stubHandler) Validate(assessment.Submission) error { return nil }
func (h stubHandler) Grade(ctx context.Context, _ assessment.Submission, _ assessment.Env) (model.GradingResult, error) {
	return h.grade(ctx)
}
func (stubHandler) Prepare(context.Context, assessment.Submission, assessment.Env) (assessment.Prompt, error) {
	return assessment.Prompt{}, nil
}

func withStub(t *testing.T, f *fixture, h stubHandler) Request {
	t.Helper()
	if err := f.reg.Register("5", registry.Module{Name: "stubs", Handlers: map[string]assessment.Handler{"course5_01_lab_friction_stub": h}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	three := 3
	cfg := &model.CourseConfig{
		CourseID: "5",
		CourseStructure: model.CourseStructure{Units: []model.Unit{{Items: []model.Item{
			{ItemID: "course5_01_lab_friction_stub", Type: model.ItemLab},
		}}}},
		AttemptLimits: map[model.ItemType]*int{model.ItemLab: &three},
	}
	courses := course.NewStore()
	if err := courses.Add(cfg); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.d.courses = courses
	return request("5", "course5_01_lab_friction_stub", `{}`)
}

func TestDispatchReleasesAttemptOnHandlerError(t *testing.T) {
	f := newFixture(t)
	req := withStub(t, f, stubHandler{grade: func(context.Context) (model.GradingResult, error) {
		return model.GradingResult{}, model.Errorf(model.KindGenerationService, "service down")
	}})

	_, err := f.d.Dispatch(context.Background(), req)
	if !errors.Is(err, model.ErrGenerationService) {
		t.Fatalf("Dispatch = %v, want the handler's error", err)
	}
	if n, _ := f.attempts.AttemptCount(context.Background(), "student-x", req.AssessmentID); n != 0 {
		t.Errorf("attempt count = %d, want 0 after release", n)
	}
	if f.grades.count() != 0 {
		t.Error("no grade should be written")
	}
}

func TestDispatchCancelledBeforeWrite(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	req := withStub(t, f, stubHandler{grade: func(context.Context) (model.GradingResult, error) {
		cancel() // client disconnects while grading
		return model.GradingResult{Score: 1, MaxScore: 1, Status: model.StatusComplete}, nil
	}})

	_, err := f.d.Dispatch(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch = %v, want context.Canceled", err)
	}
	if f.grades.count() != 0 {
		t.Error("a cancelled request must not write a grade")
	}
	if f.attempts.released != 1 {
		t.Errorf("released = %d, want 1", f.attempts.released)
	}
}

func TestDispatchMappedButMissingFromStructure(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Register("5", registry.Module{Name: "orphans", Handlers: map[string]assessment.Handler{
		"course5_orphan": stubHandler{grade: func(context.Context) (model.GradingResult, error) { return model.GradingResult{}, nil }},
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = f.d.Dispatch(context.Background(), request("5", "course5_orphan", `{}`))
	if !errors.Is(err, model.ErrMappingNotFound) {
		t.Errorf("Dispatch = %v, want mapping not found", err)
	}
}

func TestPrepare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.d.Prepare(ctx, request("2", "course2_lab_electrostatic", ""))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.Attempt != 1 || len(p.RequiredSections) != 4 {
		t.Errorf("Prepare = %+v", p)
	}
	if n, _ := f.attempts.AttemptCount(ctx, "student-x", "course2_lab_electrostatic"); n != 0 {
		t.Error("Prepare must not consume an attempt")
	}

	mc, err := f.d.Prepare(ctx, request("5", "course5_01_newton", ""))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if mc.Question == "" || len(mc.Options) != 3 {
		t.Errorf("Prepare = %+v", mc)
	}

	if _, err := f.d.Dispatch(ctx, request("5", "course5_01_newton", `{"answer": "A"}`)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := f.d.Prepare(ctx, request("5", "course5_01_newton", "")); !errors.Is(err, model.ErrAttemptLimitExceeded) {
		t.Errorf("Prepare after last attempt = %v, want attempt limit exceeded", err)
	}
}

func TestAttemptsUnlimited(t *testing.T) {
	f := newFixture(t)
	st, err := f.d.Attempts(context.Background(), "student-x", "5", "course5_01_lab_friction")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if !st.Unlimited || st.Limit != nil || st.Remaining != nil {
		t.Errorf("Attempts = %+v, want unlimited", st)
	}
	if _, err := f.d.Attempts(context.Background(), "student-x", "5", "course5_99_unknown"); !errors.Is(err, model.ErrMappingNotFound) {
		t.Errorf("Attempts on unknown = %v, want mapping not found", err)
	}
}
