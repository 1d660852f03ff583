package course

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/assessor/internal/model"
)

// Store holds the static course configurations loaded at startup.
type Store struct {
	mu      sync.RWMutex
	courses map[model.CourseID]*model.CourseConfig
	sources map[model.CourseID]string
}

// NewStore creates an empty course store.
func NewStore() *Store {
	return &Store{
		courses: make(map[model.CourseID]*model.CourseConfig),
		sources: make(map[model.CourseID]string),
	}
}

// LoadDir loads every YAML or JSON course file in dir. Unlike a best-effort
// loader, any invalid file fails the whole load: a course with a broken
// structure must not be served.
func (s *Store) LoadDir(dir string) error {
	slog.Info("loading course configs", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var errs []error
	for _, file := range files {
		if err := s.LoadFile(file); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Info("course configs loaded", "count", len(files))
	return nil
}

// LoadFile loads and validates a single course file.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	return s.add(cfg, path)
}

// Add registers an already-built course config after validating it.
func (s *Store) Add(cfg *model.CourseConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	return s.add(cfg, "")
}

func (s *Store) add(cfg *model.CourseConfig, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.sources[cfg.CourseID]; ok {
		return fmt.Errorf("course %s already loaded from %q", cfg.CourseID, prev)
	}
	s.courses[cfg.CourseID] = cfg
	s.sources[cfg.CourseID] = source
	slog.Debug("loaded course", "course_id", cfg.CourseID, "units", len(cfg.CourseStructure.Units), "source", source)
	return nil
}

// GetCourseConfig returns the configuration of a course.
func (s *Store) GetCourseConfig(courseID model.CourseID) (*model.CourseConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.courses[courseID]
	if !ok {
		return nil, model.Errorf(model.KindCourseNotFound, "course %s has no configuration", courseID)
	}
	return cfg, nil
}

// Courses returns the loaded course IDs in sorted order.
func (s *Store) Courses() []model.CourseID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]model.CourseID, 0, len(s.courses))
	for id := range s.courses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Parse decodes a course file. YAML is a superset of JSON, so one decoder
// serves both formats.
func Parse(data []byte) (*model.CourseConfig, error) {
	var cfg model.CourseConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse course config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants a course config must hold before it is served.
func Validate(cfg *model.CourseConfig) error {
	var problems []string
	if strings.TrimSpace(string(cfg.CourseID)) == "" {
		problems = append(problems, "courseId is required")
	}

	seen := make(map[string]bool)
	for ui, u := range cfg.CourseStructure.Units {
		for ii, it := range u.Items {
			if it.ItemID == "" {
				problems = append(problems, fmt.Sprintf("unit %d item %d: itemId is required", ui, ii))
				continue
			}
			if seen[it.ItemID] {
				problems = append(problems, fmt.Sprintf("duplicate itemId %q", it.ItemID))
			}
			seen[it.ItemID] = true
			if !it.Type.IsValid() {
				problems = append(problems, fmt.Sprintf("item %q: unknown type %q", it.ItemID, it.Type))
			}
		}
	}

	for typ, limit := range cfg.AttemptLimits {
		if !typ.IsValid() {
			problems = append(problems, fmt.Sprintf("attemptLimits: unknown type %q", typ))
		}
		if limit != nil && *limit <= 0 {
			problems = append(problems, fmt.Sprintf("attemptLimits.%s must be positive or null, got %d", typ, *limit))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid course config %q: %s", cfg.CourseID, strings.Join(problems, "; "))
	}
	return nil
}
