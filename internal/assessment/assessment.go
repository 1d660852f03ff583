// Package assessment defines the handler contract shared by every assessment
// kind and the constructors that build handlers from declarative configs.
package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/assessor/internal/model"
)

// Kind names an assessment handler family.
type Kind string

const (
	KindMultipleChoice   Kind = "multiple_choice"
	KindAIMultipleChoice Kind = "ai_multiple_choice"
	KindLabSubmission    Kind = "lab_submission"
)

// Submission is one student's payload for one assessment.
type Submission struct {
	StudentID    string
	AssessmentID string
	Payload      json.RawMessage
}

// Env carries the per-request collaborators a handler may need. Attempt is
// the 1-based attempt number being prepared or graded.
type Env struct {
	CourseID  model.CourseID
	StudentID string
	Attempt   int
	Questions QuestionStore
	Generator Generator
}

// Prompt is what a student sees before answering. It never carries an
// answer key.
type Prompt struct {
	AssessmentID     string         `json:"assessmentId"`
	Kind             Kind           `json:"kind"`
	Attempt          int            `json:"attempt"`
	MaxScore         float64        `json:"maxScore"`
	Question         string         `json:"question,omitempty"`
	Options          []model.Option `json:"options,omitempty"`
	RequiredSections []string       `json:"requiredSections,omitempty"`
	AutoSaveInterval int            `json:"autoSaveInterval,omitempty"`
	MaxDataSizeMB    float64        `json:"maxDataSizeMb,omitempty"`
}

// Handler grades submissions for one assessment.
type Handler interface {
	Kind() Kind
	MaxScore() float64
	// Validate checks the payload shape without side effects.
	Validate(sub Submission) error
	// Grade scores a validated submission for the attempt in env.
	Grade(ctx context.Context, sub Submission, env Env) (model.GradingResult, error)
	// Prepare returns the prompt for the attempt in env.
	Prepare(ctx context.Context, sub Submission, env Env) (Prompt, error)
}

// GenerationRequest is sent to the question generation service.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
}

// GeneratedContent is a generated multiple choice question with its key.
type GeneratedContent struct {
	QuestionText  string         `json:"questionText"`
	Options       []model.Option `json:"options"`
	CorrectAnswer string         `json:"correctAnswer"`
	Explanation   string         `json:"explanation"`
}

// Generator produces new questions. Implementations may fail transiently.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GeneratedContent, error)
}

// QuestionStore persists generated questions per student, assessment and attempt.
type QuestionStore interface {
	// GetGeneratedQuestion returns nil, nil when no question exists.
	GetGeneratedQuestion(ctx context.Context, studentID, assessmentID string, attempt int) (*model.GeneratedQuestion, error)
	// SaveGeneratedQuestion stores q unless one already exists for the same
	// key. It reports whether q was stored.
	SaveGeneratedQuestion(ctx context.Context, q model.GeneratedQuestion) (bool, error)
}

// Resources are deployment settings carried in assessment configs. They do
// not influence grading.
type Resources struct {
	Region  string `json:"region,omitempty" yaml:"region,omitempty"`
	Timeout int    `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
	Memory  string `json:"memory,omitempty" yaml:"memory,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateConfig runs struct tag validation and flattens the field errors
// into one message.
func validateConfig(kind Kind, cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%s config: %w", kind, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s config: %s", kind, strings.Join(msgs, "; "))
}

// Must panics if err is non-nil. Course registration code uses it so a bad
// config fails the process at startup instead of at grading time.
func Must(h Handler, err error) Handler {
	if err != nil {
		panic(err)
	}
	return h
}

// decodePayload decodes a submission payload into v, rejecting unknown shapes
// with a validation error.
func decodePayload(sub Submission, v any) error {
	if len(sub.Payload) == 0 {
		return model.Errorf(model.KindValidation, "assessment %s: payload is required", sub.AssessmentID)
	}
	if err := json.Unmarshal(sub.Payload, v); err != nil {
		return model.Errorf(model.KindValidation, "assessment %s: malformed payload: %w", sub.AssessmentID, err)
	}
	return nil
}

func optionIDs(opts []model.Option) map[string]bool {
	ids := make(map[string]bool, len(opts))
	for _, o := range opts {
		ids[o.ID] = true
	}
	return ids
}
