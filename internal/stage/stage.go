// Package stage holds the stage registry: the immutable table of stages, the
// persona speaking in each, and the tools offered there.
package stage

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

// Stage identifiers of the default performance.
const (
	Collect     = "collect"
	Opinion     = "opinion"
	Perspective = "perspective"
	Engage      = "engage"
	End         = "end"
)

// ToolKind classifies what invoking a tool does.
type ToolKind string

const (
	KindTransition  ToolKind = "transition"
	KindTerminate   ToolKind = "terminate"
	KindEmergency   ToolKind = "emergency"
	KindMemoryCheck ToolKind = "memory_check"
)

// Tool is a capability offered to the persona in a stage.
type Tool struct {
	Name        string
	Description string
	Kind        ToolKind
	// Target is the stage entered by a transition tool.
	Target string
	// Args is a zero value of the argument struct the schema is reflected from.
	Args any
}

// Terminates reports whether invoking the tool ends the call.
func (t Tool) Terminates() bool {
	return t.Kind == KindTerminate || t.Kind == KindEmergency
}

// Stage is one row of the registry.
type Stage struct {
	ID             string
	Persona        model.Speaker
	VoiceID        string
	Prompt         *template.Template
	Tools          []Tool
	Acknowledgment string
}

// HasTool reports whether the stage offers the named tool.
func (s *Stage) HasTool(name string) bool {
	for _, t := range s.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Render executes the stage prompt. Execution errors fall back to the stage's
// plain persona introduction so the call can always continue.
func (s *Stage) Render(hc HandoffContext) string {
	var buf bytes.Buffer
	if err := s.Prompt.Execute(&buf, promptData(hc)); err != nil {
		return fmt.Sprintf("You are %s. Continue the conversation with %s about %s.",
			personaName(s.Persona), orDefault(hc.UserName, defaultUserName), orDefault(hc.Topic, defaultTopic))
	}
	return buf.String()
}

// Definitions renders the stage's tools for the provider, each calling back to serverURL.
func (s *Stage) Definitions(serverURL string) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(s.Tools))
	for i, t := range s.Tools {
		defs[i] = model.ToolDefinition{
			Type: "function",
			Function: model.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaFor(t.Args),
			},
			Server: model.ToolServer{URL: serverURL},
		}
	}
	return defs
}

var (
	ErrDuplicateStage  = errors.New("duplicate stage")
	ErrDuplicateTool   = errors.New("duplicate tool")
	ErrDanglingTarget  = errors.New("transition targets unknown stage")
	ErrMissingInitial  = errors.New("initial stage not registered")
	ErrMissingTemplate = errors.New("stage has no prompt template")
)

// Registry is the validated, read-only stage table.
type Registry struct {
	initial string
	order   []string
	stages  map[string]*Stage
	tools   map[string]Tool
}

// NewRegistry validates stages and builds a registry. Tool names are unique
// across the registry; a tool offered by several stages must be declared
// identically in each.
func NewRegistry(initial string, stages ...Stage) (*Registry, error) {
	r := &Registry{
		initial: initial,
		stages:  make(map[string]*Stage, len(stages)),
		tools:   make(map[string]Tool),
	}

	for i := range stages {
		s := stages[i]
		if _, ok := r.stages[s.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, s.ID)
		}
		if s.Prompt == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, s.ID)
		}

		seen := make(map[string]bool, len(s.Tools))
		for _, t := range s.Tools {
			if seen[t.Name] {
				return nil, fmt.Errorf("%w: %s in stage %s", ErrDuplicateTool, t.Name, s.ID)
			}
			seen[t.Name] = true

			if prior, ok := r.tools[t.Name]; ok && (prior.Kind != t.Kind || prior.Target != t.Target) {
				return nil, fmt.Errorf("%w: %s declared differently in stage %s", ErrDuplicateTool, t.Name, s.ID)
			}
			r.tools[t.Name] = t
		}

		s.Tools = append([]Tool(nil), s.Tools...)
		r.stages[s.ID] = &s
		r.order = append(r.order, s.ID)
	}

	if _, ok := r.stages[initial]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingInitial, initial)
	}
	for _, t := range r.tools {
		if t.Kind != KindTransition {
			continue
		}
		if _, ok := r.stages[t.Target]; !ok {
			return nil, fmt.Errorf("%w: %s -> %s", ErrDanglingTarget, t.Name, t.Target)
		}
	}

	return r, nil
}

// Lookup returns the stage with the given id.
func (r *Registry) Lookup(id string) (*Stage, bool) {
	s, ok := r.stages[id]
	return s, ok
}

// Tool returns the tool with the given name.
func (r *Registry) Tool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Initial returns the first-contact stage.
func (r *Registry) Initial() *Stage {
	return r.stages[r.initial]
}

// Stages returns the stages in declaration order.
func (r *Registry) Stages() []*Stage {
	out := make([]*Stage, len(r.order))
	for i, id := range r.order {
		out[i] = r.stages[id]
	}
	return out
}
