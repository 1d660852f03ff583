package assessment

import (
	"context"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// MultipleChoiceConfig fully describes a fixed multiple choice question.
type MultipleChoiceConfig struct {
	AssessmentID  string         `json:"assessmentId" validate:"required"`
	Question      string         `json:"question" validate:"required"`
	Options       []model.Option `json:"options" validate:"min=2,dive"`
	CorrectAnswer string         `json:"correctAnswer" validate:"required"`
	Explanation   string         `json:"explanation,omitempty"`
	PointsValue   float64        `json:"pointsValue" validate:"gt=0"`
	Resources     Resources      `json:"resources,omitempty"`
}

type multipleChoiceAnswer struct {
	Answer string `json:"answer"`
}

// MultipleChoice grades by exact comparison against a deploy-time key.
type MultipleChoice struct {
	cfg MultipleChoiceConfig
}

// NewStandardMultipleChoice validates cfg and returns its handler.
func NewStandardMultipleChoice(cfg MultipleChoiceConfig) (*MultipleChoice, error) {
	if err := validateConfig(KindMultipleChoice, cfg); err != nil {
		return nil, err
	}
	ids := optionIDs(cfg.Options)
	if len(ids) != len(cfg.Options) {
		return nil, fmt.Errorf("%s config %s: option ids must be unique", KindMultipleChoice, cfg.AssessmentID)
	}
	for _, o := range cfg.Options {
		if o.ID == "" || o.Text == "" {
			return nil, fmt.Errorf("%s config %s: every option needs an id and text", KindMultipleChoice, cfg.AssessmentID)
		}
	}
	if !ids[cfg.CorrectAnswer] {
		return nil, fmt.Errorf("%s config %s: correct answer %q is not an option", KindMultipleChoice, cfg.AssessmentID, cfg.CorrectAnswer)
	}
	return &MultipleChoice{cfg: cfg}, nil
}

func (h *MultipleChoice) Kind() Kind        { return KindMultipleChoice }
func (h *MultipleChoice) MaxScore() float64 { return h.cfg.PointsValue }

func (h *MultipleChoice) Validate(sub Submission) error {
	var a multipleChoiceAnswer
	if err := decodePayload(sub, &a); err != nil {
		return err
	}
	if a.Answer == "" {
		return model.Errorf(model.KindValidation, "assessment %s: answer is required", sub.AssessmentID)
	}
	return nil
}

// Grade is a pure function of the payload: the same answer always earns the
// same score.
func (h *MultipleChoice) Grade(_ context.Context, sub Submission, _ Env) (model.GradingResult, error) {
	var a multipleChoiceAnswer
	if err := decodePayload(sub, &a); err != nil {
		return model.GradingResult{}, err
	}
	return gradeChoice(a.Answer, h.cfg.CorrectAnswer, h.cfg.PointsValue, h.cfg.Explanation), nil
}

func (h *MultipleChoice) Prepare(_ context.Context, sub Submission, env Env) (Prompt, error) {
	return Prompt{
		AssessmentID: sub.AssessmentID,
		Kind:         KindMultipleChoice,
		Attempt:      env.Attempt,
		MaxScore:     h.cfg.PointsValue,
		Question:     h.cfg.Question,
		Options:      h.cfg.Options,
	}, nil
}

func gradeChoice(answer, correct string, points float64, explanation string) model.GradingResult {
	if answer == correct {
		return model.GradingResult{Score: points, MaxScore: points, Status: model.StatusCorrect, Feedback: explanation}
	}
	return model.GradingResult{Score: 0, MaxScore: points, Status: model.StatusIncorrect, Feedback: explanation}
}
