package course

import "github.com/pavelanni/assessor/internal/model"

// LimitOutcome says how an attempt limit lookup resolved.
type LimitOutcome int

const (
	// LimitConfigured means the item was found and its type has a ceiling.
	LimitConfigured LimitOutcome = iota
	// LimitUnlimited means the item was found but its type has no ceiling.
	LimitUnlimited
	// LimitItemNotFound means the assessment is not in the course structure.
	LimitItemNotFound
)

func (o LimitOutcome) String() string {
	switch o {
	case LimitConfigured:
		return "configured"
	case LimitUnlimited:
		return "unlimited"
	case LimitItemNotFound:
		return "item_not_found"
	}
	return "unknown"
}

// Limit is the result of an attempt limit lookup. Max is only meaningful
// when Outcome is LimitConfigured.
type Limit struct {
	Outcome  LimitOutcome
	ItemType model.ItemType
	Max      int
}

// ItemType returns the declared type of the first item whose ID equals
// assessmentID, scanning units in order and items in order within a unit.
func ItemType(cfg *model.CourseConfig, assessmentID string) (model.ItemType, bool) {
	if cfg == nil {
		return "", false
	}
	for _, u := range cfg.CourseStructure.Units {
		for _, it := range u.Items {
			if it.ItemID == assessmentID {
				return it.Type, true
			}
		}
	}
	return "", false
}

// LookupAttemptLimit resolves the attempt ceiling for an assessment and keeps
// "not in the course" apart from "no ceiling configured".
func LookupAttemptLimit(cfg *model.CourseConfig, assessmentID string) Limit {
	typ, ok := ItemType(cfg, assessmentID)
	if !ok {
		return Limit{Outcome: LimitItemNotFound}
	}
	ceiling := cfg.AttemptLimits[typ]
	if ceiling == nil {
		return Limit{Outcome: LimitUnlimited, ItemType: typ}
	}
	return Limit{Outcome: LimitConfigured, ItemType: typ, Max: *ceiling}
}

// GetAttemptLimit returns the configured ceiling, or nil when the item is
// missing or its type has no limit. Callers that must tell those two apart
// use LookupAttemptLimit.
func GetAttemptLimit(cfg *model.CourseConfig, assessmentID string) *int {
	l := LookupAttemptLimit(cfg, assessmentID)
	if l.Outcome != LimitConfigured {
		return nil
	}
	ceiling := l.Max
	return &ceiling
}
