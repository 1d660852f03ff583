// Package courses lists every course package compiled into the binary.
package courses

import (
	"fmt"

	"github.com/pavelanni/assessor/internal/courses/course2"
	"github.com/pavelanni/assessor/internal/courses/course5"
	"github.com/pavelanni/assessor/internal/registry"
)

var all = []struct {
	name     string
	register func(*registry.Registry) error
}{
	{"course2", course2.Register},
	{"course5", course5.Register},
}

// RegisterAll registers every course package into r.
func RegisterAll(r *registry.Registry) error {
	for _, c := range all {
		if err := c.register(r); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	return nil
}
