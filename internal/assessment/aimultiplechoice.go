package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// AIMultipleChoiceConfig describes a multiple choice question generated per
// attempt by the question generation service.
type AIMultipleChoiceConfig struct {
	AssessmentID string    `json:"assessmentId" validate:"required"`
	SystemPrompt string    `json:"systemPrompt" validate:"required"`
	UserPrompt   string    `json:"userPrompt" validate:"required"`
	Temperature  float64   `json:"temperature" validate:"gte=0,lte=2"`
	PointsValue  float64   `json:"pointsValue" validate:"gt=0"`
	Topic        string    `json:"topic,omitempty"`
	Difficulty   string    `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	Resources    Resources `json:"resources,omitempty"`
}

// AIMultipleChoice generates one question per attempt, pins it to that
// attempt, and grades against the pinned key.
type AIMultipleChoice struct {
	cfg        AIMultipleChoiceConfig
	userPrompt *template.Template
}

// NewAIMultipleChoice validates cfg, compiles its user prompt template and
// returns the handler.
func NewAIMultipleChoice(cfg AIMultipleChoiceConfig) (*AIMultipleChoice, error) {
	if err := validateConfig(KindAIMultipleChoice, cfg); err != nil {
		return nil, err
	}
	tmpl, err := prompts.Compile(cfg.AssessmentID, cfg.UserPrompt)
	if err != nil {
		return nil, fmt.Errorf("%s config %s: %w", KindAIMultipleChoice, cfg.AssessmentID, err)
	}
	return &AIMultipleChoice{cfg: cfg, userPrompt: tmpl}, nil
}

func (h *AIMultipleChoice) Kind() Kind        { return KindAIMultipleChoice }
func (h *AIMultipleChoice) MaxScore() float64 { return h.cfg.PointsValue }

func (h *AIMultipleChoice) Validate(sub Submission) error {
	var a multipleChoiceAnswer
	if err := decodePayload(sub, &a); err != nil {
		return err
	}
	if a.Answer == "" {
		return model.Errorf(model.KindValidation, "assessment %s: answer is required", sub.AssessmentID)
	}
	return nil
}

// Prepare returns the question pinned to env.Attempt, generating it first if
// this attempt has none yet. An existing question is never replaced.
func (h *AIMultipleChoice) Prepare(ctx context.Context, sub Submission, env Env) (Prompt, error) {
	q, err := h.question(ctx, sub, env)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		AssessmentID: sub.AssessmentID,
		Kind:         KindAIMultipleChoice,
		Attempt:      env.Attempt,
		MaxScore:     h.cfg.PointsValue,
		Question:     q.QuestionText,
		Options:      q.Options,
	}, nil
}

// Grade grades against the question generated for env.Attempt. It never
// generates: answering without a prepared question is a validation error.
func (h *AIMultipleChoice) Grade(ctx context.Context, sub Submission, env Env) (model.GradingResult, error) {
	if env.Questions == nil {
		return model.GradingResult{}, errors.New("ai multiple choice: question store not configured")
	}
	var a multipleChoiceAnswer
	if err := decodePayload(sub, &a); err != nil {
		return model.GradingResult{}, err
	}
	q, err := env.Questions.GetGeneratedQuestion(ctx, sub.StudentID, sub.AssessmentID, env.Attempt)
	if err != nil {
		return model.GradingResult{}, persistenceErr("load generated question", err)
	}
	if q == nil {
		return model.GradingResult{}, model.Errorf(model.KindValidation,
			"assessment %s: no question was generated for attempt %d", sub.AssessmentID, env.Attempt)
	}
	return gradeChoice(a.Answer, q.CorrectAnswer, h.cfg.PointsValue, q.Explanation), nil
}

func (h *AIMultipleChoice) question(ctx context.Context, sub Submission, env Env) (*model.GeneratedQuestion, error) {
	if env.Questions == nil || env.Generator == nil {
		return nil, errors.New("ai multiple choice: question store or generator not configured")
	}
	existing, err := env.Questions.GetGeneratedQuestion(ctx, sub.StudentID, sub.AssessmentID, env.Attempt)
	if err != nil {
		return nil, persistenceErr("load generated question", err)
	}
	if existing != nil {
		return existing, nil
	}

	userPrompt, err := prompts.Render(h.userPrompt, prompts.Data{
		AssessmentID: sub.AssessmentID,
		CourseID:     env.CourseID.String(),
		Topic:        h.cfg.Topic,
		Difficulty:   h.cfg.Difficulty,
		Attempt:      env.Attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("render user prompt for %s: %w", sub.AssessmentID, err)
	}

	content, err := env.Generator.Generate(ctx, GenerationRequest{
		SystemPrompt: prompts.SystemPrompt(h.cfg.SystemPrompt),
		UserPrompt:   userPrompt,
		Temperature:  float32(h.cfg.Temperature),
	})
	if err != nil {
		if model.KindOf(err) == "" {
			err = model.Errorf(model.KindGenerationService, "generate question for %s: %w", sub.AssessmentID, err)
		}
		return nil, err
	}
	if err := CheckGenerated(content); err != nil {
		return nil, model.Errorf(model.KindGenerationService, "generate question for %s: %w", sub.AssessmentID, err)
	}

	q := model.GeneratedQuestion{
		StudentID:     sub.StudentID,
		AssessmentID:  sub.AssessmentID,
		Attempt:       env.Attempt,
		QuestionText:  content.QuestionText,
		Options:       content.Options,
		CorrectAnswer: content.CorrectAnswer,
		Explanation:   content.Explanation,
		CreatedAt:     time.Now().UTC(),
	}
	stored, err := env.Questions.SaveGeneratedQuestion(ctx, q)
	if err != nil {
		return nil, persistenceErr("save generated question", err)
	}
	if stored {
		slog.Info("generated question", "assessment_id", sub.AssessmentID, "student_id", sub.StudentID, "attempt", env.Attempt)
		return &q, nil
	}

	// A concurrent request pinned a question first; serve that one.
	winner, err := env.Questions.GetGeneratedQuestion(ctx, sub.StudentID, sub.AssessmentID, env.Attempt)
	if err != nil {
		return nil, persistenceErr("load generated question", err)
	}
	if winner == nil {
		return nil, model.Errorf(model.KindPersistence, "generated question for %s attempt %d vanished", sub.AssessmentID, env.Attempt)
	}
	return winner, nil
}

// CheckGenerated rejects generated content that cannot be graded.
func CheckGenerated(c GeneratedContent) error {
	if c.QuestionText == "" {
		return errors.New("generated question has no text")
	}
	if len(c.Options) < 2 {
		return fmt.Errorf("generated question has %d options, need at least 2", len(c.Options))
	}
	ids := optionIDs(c.Options)
	if len(ids) != len(c.Options) {
		return errors.New("generated question has duplicate option ids")
	}
	if !ids[c.CorrectAnswer] {
		return fmt.Errorf("generated correct answer %q is not an option", c.CorrectAnswer)
	}
	return nil
}

func persistenceErr(op string, err error) error {
	if model.KindOf(err) != "" {
		return err
	}
	return model.Errorf(model.KindPersistence, "%s: %w", op, err)
}
