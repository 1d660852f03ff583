// Package registry maps assessment IDs to the in-process handlers that grade
// them. Course packages register their modules and mapping tables at startup;
// nothing is loaded by path at request time.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/model"
)

// Module is a named group of handlers, usually one per lesson file.
type Module struct {
	Name     string
	Handlers map[string]assessment.Handler
}

type courseTable struct {
	mapping map[string]string // assessment ID -> module name
	modules map[string]Module
}

// Registry holds every course's mapping table and modules.
type Registry struct {
	mu      sync.RWMutex
	courses map[model.CourseID]*courseTable
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{courses: make(map[model.CourseID]*courseTable)}
}

func (r *Registry) table(courseID model.CourseID) *courseTable {
	t, ok := r.courses[courseID]
	if !ok {
		t = &courseTable{mapping: make(map[string]string), modules: make(map[string]Module)}
		r.courses[courseID] = t
	}
	return t
}

// AddModule registers a module for a course. Module names are unique per course.
func (r *Registry) AddModule(courseID model.CourseID, m Module) error {
	if courseID == "" || m.Name == "" {
		return errors.New("registry: course ID and module name are required")
	}
	for id, h := range m.Handlers {
		if h == nil {
			return fmt.Errorf("registry: course %s module %s: nil handler for %s", courseID, m.Name, id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(courseID)
	if _, dup := t.modules[m.Name]; dup {
		return fmt.Errorf("registry: course %s: module %s already registered", courseID, m.Name)
	}
	t.modules[m.Name] = m
	return nil
}

// Map adds assessmentID -> module to the course's mapping table.
func (r *Registry) Map(courseID model.CourseID, assessmentID, module string) error {
	if assessmentID == "" || module == "" {
		return fmt.Errorf("registry: course %s: empty mapping %q -> %q", courseID, assessmentID, module)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(courseID)
	if prev, dup := t.mapping[assessmentID]; dup {
		return fmt.Errorf("registry: course %s: %s already mapped to %s", courseID, assessmentID, prev)
	}
	t.mapping[assessmentID] = module
	return nil
}

// Register adds m and maps every handler it exports to it.
func (r *Registry) Register(courseID model.CourseID, m Module) error {
	if err := r.AddModule(courseID, m); err != nil {
		return err
	}
	ids := make([]string, 0, len(m.Handlers))
	for id := range m.Handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := r.Map(courseID, id, m.Name); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the module name mapped to assessmentID. Matching is exact.
func (r *Registry) Resolve(courseID model.CourseID, assessmentID string) (string, error) {
	if assessmentID == "" {
		return "", model.Errorf(model.KindValidation, "assessment ID is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.courses[courseID]
	if !ok || len(t.mapping) == 0 {
		return "", model.Errorf(model.KindCourseNotFound, "course %s has no assessment mapping", courseID)
	}
	module, ok := t.mapping[assessmentID]
	if !ok {
		return "", model.Errorf(model.KindMappingNotFound, "assessment %s is not mapped in course %s", assessmentID, courseID)
	}
	return module, nil
}

// Load returns the handler module exports for assessmentID.
func (r *Registry) Load(courseID model.CourseID, module, assessmentID string) (assessment.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.courses[courseID]
	if !ok {
		return nil, model.Errorf(model.KindHandlerNotFound, "course %s has no modules", courseID)
	}
	m, ok := t.modules[module]
	if !ok {
		return nil, model.Errorf(model.KindHandlerNotFound, "course %s: module %s not found", courseID, module)
	}
	h, ok := m.Handlers[assessmentID]
	if !ok {
		return nil, model.Errorf(model.KindHandlerNotFound, "course %s: module %s does not export %s", courseID, module, assessmentID)
	}
	return h, nil
}

// Courses returns the IDs of courses with a mapping table, sorted.
func (r *Registry) Courses() []model.CourseID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]model.CourseID, 0, len(r.courses))
	for id, t := range r.courses {
		if len(t.mapping) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Assessments returns the mapped assessment IDs of a course, sorted.
func (r *Registry) Assessments(courseID model.CourseID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.courses[courseID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(t.mapping))
	for id := range t.mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CourseSource is the read side of the course configuration store.
type CourseSource interface {
	GetCourseConfig(courseID model.CourseID) (*model.CourseConfig, error)
}

// Check reports every inconsistency between the mapping tables and the
// course structures: a mapped assessment whose course is not loaded, that
// does not appear exactly once in its course structure, or whose module does
// not export it.
func (r *Registry) Check(courses CourseSource) error {
	var errs []error
	for _, courseID := range r.Courses() {
		cfg, err := courses.GetCourseConfig(courseID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		occurrences := make(map[string]int)
		for _, u := range cfg.CourseStructure.Units {
			for _, it := range u.Items {
				occurrences[it.ItemID]++
			}
		}
		for _, id := range r.Assessments(courseID) {
			if n := occurrences[id]; n != 1 {
				errs = append(errs, fmt.Errorf("course %s: %s appears %d times in the course structure", courseID, id, n))
			}
			module, err := r.Resolve(courseID, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, err := r.Load(courseID, module, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
