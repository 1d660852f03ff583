// Package course2 holds the assessments of course 2, Electricity and Magnetism.
package course2

import (
	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/registry"
)

const ID model.CourseID = "2"

func lesson01() registry.Module {
	return registry.Module{
		Name: "lesson01",
		Handlers: map[string]assessment.Handler{
			"course2_01_quiz": assessment.Must(assessment.NewStandardMultipleChoice(assessment.MultipleChoiceConfig{
				AssessmentID: "course2_01_quiz",
				Question:     "Two point charges are 1 m apart. If one charge is doubled, the force between them:",
				Options: []model.Option{
					{ID: "A", Text: "stays the same"},
					{ID: "B", Text: "doubles"},
					{ID: "C", Text: "quadruples"},
					{ID: "D", Text: "halves"},
				},
				CorrectAnswer: "B",
				Explanation:   "Coulomb's law: the force is proportional to the product of the charges.",
				PointsValue:   1,
			})),
		},
	}
}

func lesson02() registry.Module {
	return registry.Module{
		Name: "lesson02",
		Handlers: map[string]assessment.Handler{
			"course2_02_ai_fields": assessment.Must(assessment.NewAIMultipleChoice(assessment.AIMultipleChoiceConfig{
				AssessmentID: "course2_02_ai_fields",
				SystemPrompt: "You are a physics teacher writing multiple choice questions for high school students. " +
					"Questions must have a single unambiguous answer.",
				UserPrompt:  "Write one {{.Difficulty}} question about {{.Topic}}. This is attempt {{.Attempt}}; do not repeat earlier questions.",
				Temperature: 0.7,
				PointsValue: 2,
				Topic:       "electric field lines and field strength",
				Difficulty:  "medium",
				Resources:   assessment.Resources{Region: "europe-west1", Timeout: 60, Memory: "512MiB"},
			})),
		},
	}
}

func labs() registry.Module {
	return registry.Module{
		Name: "labs",
		Handlers: map[string]assessment.Handler{
			"course2_lab_electrostatic": assessment.Must(assessment.NewLabSubmission(assessment.LabConfig{
				AssessmentID:        "course2_lab_electrostatic",
				RequiredSections:    []string{"hypothesis", "observations", "analysis", "conclusion"},
				PointsValue:         15,
				AllowPartialCredit:  true,
				CompletionThreshold: 75,
				MaxDataSize:         5,
				AutoSaveInterval:    30,
			})),
		},
	}
}

// Register adds the course 2 modules to r.
func Register(r *registry.Registry) error {
	for _, m := range []registry.Module{lesson01(), lesson02(), labs()} {
		if err := r.Register(ID, m); err != nil {
			return err
		}
	}
	return nil
}
