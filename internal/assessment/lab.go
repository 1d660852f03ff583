package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pavelanni/assessor/internal/model"
)

const bytesPerMB = 1024 * 1024

// LabConfig describes a lab write-up made of named sections.
type LabConfig struct {
	AssessmentID       string   `json:"assessmentId" validate:"required"`
	RequiredSections   []string `json:"requiredSections" validate:"min=1,unique,dive,required"`
	PointsValue        float64  `json:"pointsValue" validate:"gt=0"`
	AllowPartialCredit bool     `json:"allowPartialCredit"`
	// CompletionThreshold is the percentage of required sections that must
	// be completed for full credit.
	CompletionThreshold float64 `json:"completionThreshold" validate:"gte=0,lte=100"`
	// MaxDataSize is the payload ceiling in megabytes.
	MaxDataSize float64 `json:"maxDataSize" validate:"gt=0"`
	// AutoSaveInterval is a client hint in seconds; 0 disables autosave.
	AutoSaveInterval int       `json:"autoSaveInterval" validate:"gte=0"`
	Resources        Resources `json:"resources,omitempty"`
}

type labPayload struct {
	Sections map[string]json.RawMessage `json:"sections"`
}

// Lab grades a submission by how many required sections it completes.
type Lab struct {
	cfg LabConfig
}

// NewLabSubmission validates cfg and returns its handler.
func NewLabSubmission(cfg LabConfig) (*Lab, error) {
	if err := validateConfig(KindLabSubmission, cfg); err != nil {
		return nil, err
	}
	return &Lab{cfg: cfg}, nil
}

func (h *Lab) Kind() Kind        { return KindLabSubmission }
func (h *Lab) MaxScore() float64 { return h.cfg.PointsValue }

// Validate rejects oversized payloads outright; nothing is truncated.
func (h *Lab) Validate(sub Submission) error {
	limit := h.cfg.MaxDataSize * bytesPerMB
	if float64(len(sub.Payload)) > limit {
		return model.Errorf(model.KindValidation, "assessment %s: submission is %d bytes, limit is %.2f MB",
			sub.AssessmentID, len(sub.Payload), h.cfg.MaxDataSize)
	}
	var p labPayload
	if err := decodePayload(sub, &p); err != nil {
		return err
	}
	if p.Sections == nil {
		return model.Errorf(model.KindValidation, "assessment %s: sections are required", sub.AssessmentID)
	}
	return nil
}

// Grade awards full points once the completed share of required sections
// reaches the threshold. Below it, the score is 0 without partial credit, or
// pointsValue * completed / required floored to a whole point with it.
func (h *Lab) Grade(_ context.Context, sub Submission, _ Env) (model.GradingResult, error) {
	if err := h.Validate(sub); err != nil {
		return model.GradingResult{}, err
	}
	var p labPayload
	if err := decodePayload(sub, &p); err != nil {
		return model.GradingResult{}, err
	}

	var missing []string
	completed := 0
	for _, name := range h.cfg.RequiredSections {
		if raw, ok := p.Sections[name]; ok && !isBlank(raw) {
			completed++
		} else {
			missing = append(missing, name)
		}
	}
	return h.score(completed, missing), nil
}

func (h *Lab) score(completed int, missing []string) model.GradingResult {
	required := len(h.cfg.RequiredSections)
	res := model.GradingResult{MaxScore: h.cfg.PointsValue}

	// Compare completed/required >= threshold/100 without dividing.
	if float64(completed)*100 >= h.cfg.CompletionThreshold*float64(required) {
		res.Score = h.cfg.PointsValue
		res.Status = model.StatusComplete
		res.Feedback = fmt.Sprintf("%d of %d sections completed", completed, required)
		return res
	}

	res.Status = model.StatusIncomplete
	if h.cfg.AllowPartialCredit && completed > 0 {
		res.Score = math.Floor(h.cfg.PointsValue * float64(completed) / float64(required))
		res.Status = model.StatusPartial
	}
	res.Feedback = fmt.Sprintf("%d of %d sections completed; missing: %s", completed, required, strings.Join(missing, ", "))
	return res
}

func (h *Lab) Prepare(_ context.Context, sub Submission, env Env) (Prompt, error) {
	return Prompt{
		AssessmentID:     sub.AssessmentID,
		Kind:             KindLabSubmission,
		Attempt:          env.Attempt,
		MaxScore:         h.cfg.PointsValue,
		RequiredSections: h.cfg.RequiredSections,
		AutoSaveInterval: h.cfg.AutoSaveInterval,
		MaxDataSizeMB:    h.cfg.MaxDataSize,
	}, nil
}

// isBlank treats null, empty or whitespace strings, and empty objects or
// arrays as not completed.
func isBlank(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "{}", "[]":
		return true
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return true
		}
		return strings.TrimSpace(s) == ""
	}
	return false
}
