package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CourseID identifies a course. Course IDs arrive both as JSON numbers and as
// strings ("5" and 5 are the same course), so they are normalized to strings.
type CourseID string

// UnmarshalJSON accepts either a JSON string or a JSON integer.
func (c *CourseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CourseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("course id must be a string or an integer: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("course id must be a string or an integer: %s", n)
	}
	*c = CourseID(n.String())
	return nil
}

// UnmarshalYAML accepts either a YAML string or a YAML integer.
func (c *CourseID) UnmarshalYAML(unmarshal func(any) error) error {
	var v any
	if err := unmarshal(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*c = CourseID(t)
	case int:
		*c = CourseID(strconv.Itoa(t))
	default:
		return fmt.Errorf("course id must be a string or an integer, got %T", v)
	}
	return nil
}

func (c CourseID) String() string { return string(c) }

// ItemType is the declared type of an item in a course structure.
type ItemType string

const (
	ItemLesson     ItemType = "lesson"
	ItemAssignment ItemType = "assignment"
	ItemExam       ItemType = "exam"
	ItemQuiz       ItemType = "quiz"
	ItemLab        ItemType = "lab"
)

var validItemTypes = map[ItemType]bool{
	ItemLesson:     true,
	ItemAssignment: true,
	ItemExam:       true,
	ItemQuiz:       true,
	ItemLab:        true,
}

// IsValid reports whether t is one of the known item types.
func (t ItemType) IsValid() bool {
	return validItemTypes[t]
}

// Item is a single entry in a course unit.
type Item struct {
	ItemID string   `json:"itemId" yaml:"itemId"`
	Type   ItemType `json:"type" yaml:"type"`
	Title  string   `json:"title,omitempty" yaml:"title,omitempty"`
}

// Unit is an ordered group of items.
type Unit struct {
	UnitID string `json:"unitId,omitempty" yaml:"unitId,omitempty"`
	Title  string `json:"title,omitempty" yaml:"title,omitempty"`
	Items  []Item `json:"items" yaml:"items"`
}

// CourseStructure is the ordered unit/item hierarchy of a course.
type CourseStructure struct {
	Units []Unit `json:"units" yaml:"units"`
}

// CourseConfig is the static, read-only configuration of one course.
type CourseConfig struct {
	CourseID        CourseID          `json:"courseId" yaml:"courseId"`
	Title           string            `json:"title,omitempty" yaml:"title,omitempty"`
	CourseStructure CourseStructure   `json:"courseStructure" yaml:"courseStructure"`
	AttemptLimits   map[ItemType]*int `json:"attemptLimits" yaml:"attemptLimits"`
}

// GradeStatus describes the outcome of grading one submission.
type GradeStatus string

const (
	StatusCorrect    GradeStatus = "correct"
	StatusIncorrect  GradeStatus = "incorrect"
	StatusComplete   GradeStatus = "complete"
	StatusPartial    GradeStatus = "partial"
	StatusIncomplete GradeStatus = "incomplete"
)

// GradingResult is what every assessment handler returns.
type GradingResult struct {
	Score    float64     `json:"score"`
	MaxScore float64     `json:"maxScore"`
	Status   GradeStatus `json:"status"`
	Feedback string      `json:"feedback,omitempty"`
}

// AttemptRecord counts a student's admitted attempts on one assessment.
type AttemptRecord struct {
	StudentID    string    `json:"studentId"`
	AssessmentID string    `json:"assessmentId"`
	Count        int       `json:"count"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GradeRecord is the persisted result of one graded attempt.
type GradeRecord struct {
	ID           string      `json:"id"`
	CourseID     CourseID    `json:"courseId"`
	AssessmentID string      `json:"assessmentId"`
	StudentID    string      `json:"studentId"`
	Attempt      int         `json:"attempt"`
	Score        float64     `json:"score"`
	MaxScore     float64     `json:"maxScore"`
	Status       GradeStatus `json:"status"`
	Feedback     string      `json:"feedback,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Option is one choice of a multiple choice question.
type Option struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// GeneratedQuestion is an AI-generated multiple choice instance, pinned to a
// single attempt of a single student so grading stays consistent.
type GeneratedQuestion struct {
	StudentID     string    `json:"studentId"`
	AssessmentID  string    `json:"assessmentId"`
	Attempt       int       `json:"attempt"`
	QuestionText  string    `json:"questionText"`
	Options       []Option  `json:"options"`
	CorrectAnswer string    `json:"correctAnswer"`
	Explanation   string    `json:"explanation,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
