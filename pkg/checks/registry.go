package checks

import (
	"context"
	"fmt"
	"sort"

	"github.com/newtron-network/newtval/pkg/util"
)

// PhaseFunc is one phase of a case.
type PhaseFunc func(ctx context.Context, env *Env) error

// Case is a registered validation case. Nil phases are skipped.
//
// Precondition returns a *SkipError when the case does not apply. Teardown
// runs whenever Setup ran, even if Setup or Run failed, so it must only
// undo what was done. Phases share state through the value the case was
// built around, so each lookup returns a fresh Case.
type Case struct {
	Name        string
	Description string
	Topologies  []string

	Precondition PhaseFunc
	Setup        PhaseFunc
	// Run returns a one-line summary for the report.
	Run      func(ctx context.Context, env *Env) (string, error)
	Teardown PhaseFunc
}

type caseEntry struct {
	description string
	build       func() *Case
}

var registry = map[string]caseEntry{}

func register(name, description string, build func() *Case) {
	if _, dup := registry[name]; dup {
		panic("checks: duplicate case " + name)
	}
	registry[name] = caseEntry{description: description, build: build}
}

// Lookup returns a fresh instance of the named case.
func Lookup(name string) (*Case, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("case %q: %w", name, util.ErrNotFound)
	}
	c := e.build()
	c.Name = name
	c.Description = e.description
	return c, nil
}

// Names returns the registered case names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns the description of a registered case.
func Describe(name string) string {
	return registry[name].description
}
