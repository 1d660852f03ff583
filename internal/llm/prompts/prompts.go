// Package prompts compiles and renders the prompt templates course authors
// attach to AI-generated assessments.
package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

var (
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
	templateActionRegex     = regexp.MustCompile(`\{\{|\}\}`)
)

const maxFieldRunes = 2000

// Data is what a user prompt template can reference.
type Data struct {
	AssessmentID string
	CourseID     string
	Topic        string
	Difficulty   string
	Attempt      int
}

// ResponseFormat is appended to every system prompt so the model answers
// with a JSON object the generator can decode.
const ResponseFormat = `
Respond ONLY with a JSON object with these fields:
{"questionText": "<question>", "options": [{"id": "A", "text": "<option>"}, ...], "correctAnswer": "<id of the correct option>", "explanation": "<why the answer is correct>"}
Provide between 3 and 5 options with ids A, B, C, D, E in order. Exactly one option is correct.
`

// Compile parses an author template. Missing keys are errors so a typo in
// a template fails at startup rather than producing an empty prompt.
func Compile(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("prompt template " + name + " is empty")
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	// Dry run against zero data to surface references to unknown fields.
	if err := tmpl.Execute(&bytes.Buffer{}, Data{}); err != nil {
		return nil, fmt.Errorf("prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// Render executes tmpl with sanitized data.
func Render(tmpl *template.Template, data Data) (string, error) {
	if tmpl == nil {
		return "", errors.New("prompt template not compiled")
	}
	data.Topic = Sanitize(data.Topic)
	data.Difficulty = Sanitize(data.Difficulty)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// SystemPrompt combines an author system prompt with the response format.
func SystemPrompt(authored string) string {
	return strings.TrimSpace(authored) + "\n" + ResponseFormat
}

// Sanitize strips markup that could be read as instructions and caps the
// length of values interpolated into prompts.
func Sanitize(s string) string {
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = templateActionRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) > maxFieldRunes {
		runes := []rune(s)
		s = string(runes[:maxFieldRunes])
	}
	return s
}
