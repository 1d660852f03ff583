// Package course5 holds the assessments of course 5, Mechanics.
package course5

import (
	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/registry"
)

const ID model.CourseID = "5"

func lesson01() registry.Module {
	return registry.Module{
		Name: "lesson01",
		Handlers: map[string]assessment.Handler{
			"course5_01_newton": assessment.Must(assessment.NewStandardMultipleChoice(assessment.MultipleChoiceConfig{
				AssessmentID: "course5_01_newton",
				Question:     "A 2 kg cart accelerates at 3 m/s². What is the net force on it?",
				Options: []model.Option{
					{ID: "A", Text: "1.5 N"},
					{ID: "B", Text: "6 N"},
					{ID: "C", Text: "5 N"},
				},
				CorrectAnswer: "B",
				Explanation:   "F = ma = 2 kg × 3 m/s² = 6 N.",
				PointsValue:   1,
			})),
			"course5_01_lab_friction": assessment.Must(assessment.NewLabSubmission(assessment.LabConfig{
				AssessmentID:        "course5_01_lab_friction",
				RequiredSections:    []string{"setup", "measurements", "conclusion"},
				PointsValue:         10,
				CompletionThreshold: 100,
				MaxDataSize:         2,
			})),
		},
	}
}

// Register adds the course 5 modules to r.
func Register(r *registry.Registry) error {
	return r.Register(ID, lesson01())
}
