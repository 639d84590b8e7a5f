// Package runner provides polymorphic language runners for program
// executions.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/progrunhq/progrun/internal/program/model"
)

// Runner builds the command line and environment to execute a program in a
// materialized sandbox.
type Runner interface {
	// CanHandle reports whether this runner supports the language
	CanHandle(language model.Language) bool

	// Build produces the invocation for a sandbox
	Build(ctx context.Context, spec *BuildSpec) (*Invocation, error)
}

// BuildSpec describes what to run
type BuildSpec struct {
	SandboxRoot string
	EntryFile   string
	Parameters  map[string]interface{}
	Environment map[string]string
}

// Invocation is the concrete command produced by a runner. Setup, when
// present, must succeed before Cmd runs (compile steps).
type Invocation struct {
	Cmd             string
	Args            []string
	Env             []string
	Dir             string
	Setup           []Step
	ExpectedOutputs []string
}

// Step is a preparatory command run in the sandbox before the main one
type Step struct {
	Cmd  string
	Args []string
}

// encodeParameters serializes parameters as the first CLI argument so the
// generated UI stub can ingest them.
func encodeParameters(parameters map[string]interface{}) (string, error) {
	if parameters == nil {
		return "{}", nil
	}
	data, err := json.Marshal(parameters)
	if err != nil {
		return "", fmt.Errorf("failed to encode parameters: %w", err)
	}
	return string(data), nil
}

// mergeEnv overlays node-level environment variables over the default set
func mergeEnv(defaults []string, overrides map[string]string) []string {
	env := make([]string, 0, len(defaults)+len(overrides))
	env = append(env, defaults...)
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// Registry holds runners keyed by the languages they handle
type Registry struct {
	mu      sync.RWMutex
	runners []Runner
}

// NewRegistry creates an empty runner registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a runner
func (r *Registry) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners = append(r.runners, runner)
}

// Get returns the first runner handling the language
func (r *Registry) Get(language model.Language) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, runner := range r.runners {
		if runner.CanHandle(language) {
			return runner, nil
		}
	}
	return nil, fmt.Errorf("no runner registered for language %q", language)
}
