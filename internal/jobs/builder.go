package jobs

import (
	"fmt"
	"sync"
)

// Constructor creates a job with default settings. Constructors are looked up
// by type name; see WithTypes and Registry.DefineType.
type Constructor func() Job

// Builder defers the construction of a job until the registry needs it.
// It is either a TypeName or a Factory.
type Builder interface {
	build(types map[string]Constructor) (Job, error)
	validate(types map[string]Constructor) error
}

// TypeName refers to a constructor registered in the registry's type table.
type TypeName string

// Factory is a zero-argument function producing a job. It runs outside the
// registry lock and may call Has, Names, Count or Get for other entries.
// Calling Get or All for the entry being built deadlocks.
type Factory func() (Job, error)

func (t TypeName) validate(types map[string]Constructor) error {
	if t == "" {
		return configErrorf("type name is empty")
	}
	if _, ok := types[string(t)]; !ok {
		return configErrorf("unknown job type %q", string(t))
	}
	return nil
}

func (t TypeName) build(types map[string]Constructor) (Job, error) {
	ctor, ok := types[string(t)]
	if !ok {
		return nil, fmt.Errorf("unknown job type %q", string(t))
	}
	return ctor(), nil
}

func (f Factory) validate(map[string]Constructor) error {
	if f == nil {
		return configErrorf("factory is nil")
	}
	return nil
}

func (f Factory) build(map[string]Constructor) (Job, error) {
	return f()
}

// entry is a pool slot: either a materialized job or a pending builder.
// mu serializes builds of this entry only.
type entry struct {
	mu      sync.Mutex
	job     Job
	builder Builder
}

// materialize builds the job once. A failed build leaves the builder in
// place so a later call can try again. types must not be mutated.
func (e *entry) materialize(types map[string]Constructor) (job Job, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job != nil {
		return e.job, nil
	}

	defer func() {
		if r := recover(); r != nil {
			job, err = nil, fmt.Errorf("builder panicked: %v", r)
		}
	}()

	j, err := e.builder.build(types)
	if err != nil {
		return nil, err
	}
	if err := checkContract(j); err != nil {
		return nil, err
	}

	e.job = j
	e.builder = nil
	return j, nil
}
