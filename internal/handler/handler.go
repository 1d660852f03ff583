package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/dispatch"
	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

// StudentHeader, when set by an upstream auth proxy, overrides the student
// ID in request bodies and query strings.
const StudentHeader = "X-Student-ID"

// Service is the dispatch surface the API exposes.
type Service interface {
	Dispatch(ctx context.Context, req dispatch.Request) (model.GradingResult, error)
	Prepare(ctx context.Context, req dispatch.Request) (assessment.Prompt, error)
	Attempts(ctx context.Context, studentID string, courseID model.CourseID, assessmentID string) (dispatch.AttemptStatus, error)
}

// GradeLister reads grade history.
type GradeLister interface {
	ListGrades(ctx context.Context, f store.GradeFilter) ([]model.GradeRecord, error)
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CourseLister reports the loaded courses.
type CourseLister interface {
	Courses() []model.CourseID
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc          Service
	grades       GradeLister
	courses      CourseLister
	checks       map[string]Pinger
	tr           *i18n.Translator
	maxBodyBytes int64
}

// Options configures a Handler.
type Options struct {
	Grades  GradeLister
	Courses CourseLister
	// Checks are pinged by /healthz, keyed by name.
	Checks map[string]Pinger
	// MaxBodyBytes caps request bodies; 0 means 32 MB.
	MaxBodyBytes int64
}

// New creates a new Handler.
func New(svc Service, tr *i18n.Translator, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	return &Handler{
		svc:          svc,
		grades:       opts.Grades,
		courses:      opts.Courses,
		checks:       opts.Checks,
		tr:           tr,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/dispatch", h.handleDispatch)
		r.Post("/prepare", h.handlePrepare)
		r.Get("/courses/{courseID}/assessments/{assessmentID}/attempts", h.handleAttempts)
		r.Get("/students/{studentID}/grades", h.handleGrades)
	})
}

type dispatchResponse struct {
	Success  bool              `json:"success"`
	Score    *float64          `json:"score,omitempty"`
	MaxScore *float64          `json:"maxScore,omitempty"`
	Status   model.GradeStatus `json:"status,omitempty"`
	Feedback string            `json:"feedback,omitempty"`
	Error    string            `json:"error,omitempty"`
	Kind     model.ErrorKind   `json:"kind,omitempty"`
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Dispatch(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{
		Success:  true,
		Score:    &result.Score,
		MaxScore: &result.MaxScore,
		Status:   result.Status,
		Feedback: result.Feedback,
	})
}

type prepareResponse struct {
	Success bool              `json:"success"`
	Prompt  assessment.Prompt `json:"prompt"`
}

func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	prompt, err := h.svc.Prepare(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse{Success: true, Prompt: prompt})
}

type attemptsResponse struct {
	dispatch.AttemptStatus
	Message string `json:"message"`
}

func (h *Handler) handleAttempts(w http.ResponseWriter, r *http.Request) {
	courseID := model.CourseID(chi.URLParam(r, "courseID"))
	assessmentID := chi.URLParam(r, "assessmentID")
	studentID := studentFrom(r, r.URL.Query().Get("studentId"))

	st, err := h.svc.Attempts(r.Context(), studentID, courseID, assessmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := h.tr.T(r.Context(), "AttemptsUnlimited")
	if st.Remaining != nil {
		msg = h.tr.Tp(r.Context(), "AttemptsRemaining", *st.Remaining)
	}
	writeJSON(w, http.StatusOK, attemptsResponse{AttemptStatus: st, Message: msg})
}

type gradesResponse struct {
	StudentID string              `json:"studentId"`
	Grades    []model.GradeRecord `json:"grades"`
}

func (h *Handler) handleGrades(w http.ResponseWriter, r *http.Request) {
	studentID := studentFrom(r, chi.URLParam(r, "studentID"))
	records, err := h.grades.ListGrades(r.Context(), store.GradeFilter{
		CourseID:     model.CourseID(r.URL.Query().Get("courseId")),
		StudentID:    studentID,
		AssessmentID: r.URL.Query().Get("assessmentId"),
	})
	if err != nil {
		h.writeError(w, r, model.Errorf(model.KindPersistence, "list grades: %w", err))
		return
	}
	if records == nil {
		records = []model.GradeRecord{}
	}
	writeJSON(w, http.StatusOK, gradesResponse{StudentID: studentID, Grades: records})
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Courses []model.CourseID  `json:"courses"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}, Courses: []model.CourseID{}}
	status := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.courses != nil {
		resp.Courses = h.courses.Courses()
	}
	writeJSON(w, status, resp)
}

// decodeRequest reads a dispatch request body. It writes the error response
// itself and reports whether the caller should continue.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (dispatch.Request, bool) {
	var req dispatch.Request
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, model.Errorf(model.KindValidation, "request body exceeds %d bytes", tooLarge.Limit))
		} else {
			h.writeError(w, r, model.Errorf(model.KindValidation, "malformed request body: %w", err))
		}
		return req, false
	}
	req.StudentID = studentFrom(r, req.StudentID)
	return req, true
}

func studentFrom(r *http.Request, fallback string) string {
	if id := r.Header.Get(StudentHeader); id != "" {
		return id
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
