package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// ExportGrades groups every grade record of a course (or of all courses when
// courseID is empty) by student and assessment.
func (s *Store) ExportGrades(ctx context.Context, courseID model.CourseID) (model.GradeExport, error) {
	records, err := s.ListGrades(ctx, GradeFilter{CourseID: courseID})
	if err != nil {
		return model.GradeExport{}, fmt.Errorf("list grades: %w", err)
	}

	byStudent := make(map[string]map[string]*model.AssessmentAttempts)
	for _, r := range records {
		perAssessment, ok := byStudent[r.StudentID]
		if !ok {
			perAssessment = make(map[string]*model.AssessmentAttempts)
			byStudent[r.StudentID] = perAssessment
		}
		aa, ok := perAssessment[r.AssessmentID]
		if !ok {
			aa = &model.AssessmentAttempts{AssessmentID: r.AssessmentID, CourseID: r.CourseID}
			perAssessment[r.AssessmentID] = aa
		}
		aa.Attempts = append(aa.Attempts, r)
		if r.Score > aa.BestScore {
			aa.BestScore = r.Score
		}
		aa.MaxScore = r.MaxScore
	}

	export := model.GradeExport{CourseID: courseID, ExportedAt: time.Now().UTC(), Students: []model.StudentGrades{}}
	for studentID, perAssessment := range byStudent {
		sg := model.StudentGrades{StudentID: studentID}
		for _, aa := range perAssessment {
			sg.Assessments = append(sg.Assessments, *aa)
		}
		sort.Slice(sg.Assessments, func(i, j int) bool {
			return sg.Assessments[i].AssessmentID < sg.Assessments[j].AssessmentID
		})
		export.Students = append(export.Students, sg)
	}
	sort.Slice(export.Students, func(i, j int) bool {
		return export.Students[i].StudentID < export.Students[j].StudentID
	})
	return export, nil
}
