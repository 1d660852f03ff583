package model

import "time"

// GradeExport is the top-level JSON structure for grade export.
type GradeExport struct {
	CourseID   CourseID        `json:"course_id,omitempty"`
	ExportedAt time.Time       `json:"exported_at"`
	Students   []StudentGrades `json:"students"`
}

// StudentGrades holds one student's graded attempts for export.
type StudentGrades struct {
	StudentID   string              `json:"student_id"`
	Assessments []AssessmentAttempts `json:"assessments"`
}

// AssessmentAttempts holds every graded attempt on one assessment plus the
// best score among them.
type AssessmentAttempts struct {
	AssessmentID string        `json:"assessment_id"`
	CourseID     CourseID      `json:"course_id"`
	BestScore    float64       `json:"best_score"`
	MaxScore     float64       `json:"max_score"`
	Attempts     []GradeRecord `json:"attempts"`
}
