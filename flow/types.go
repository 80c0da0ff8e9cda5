// Package flow implements the Flow Engine and Flow Definition Store of
// spec §3.2/§4.5: a directed-graph state machine over a FlowContext, with
// a sandboxed conditions language, {{}} interpolation (both reused from
// the executor package), timeouts, cancellation, and a per-run
// re-entrancy lock. Grounded on the teacher's workflow/parser.go (the
// type-detect-then-validate loading idiom, generalized from schema.org
// JSON-LD onto this module's own flow JSON schema) and
// statemanager/manager.go (the in-memory cache-with-version-invalidation
// pattern for FlowStore), enriched by other_examples' xkayo32-pytake
// flow-engine-interfaces.go for the state-type taxonomy
// (action/input/decision/end).
package flow

import "flowline.dev/executor"

// StateType is one of the four state shapes spec §3.2 defines.
type StateType string

const (
	StateAction   StateType = "action"
	StateInput    StateType = "input"
	StateDecision StateType = "decision"
	StateEnd      StateType = "end"
)

// Condition is one entry of a StateDefinition's ordered conditions list,
// evaluated on entry before transitions (spec §3.2).
type Condition struct {
	If   string `json:"if"`
	Then string `json:"then"`
}

// StateDefinition is one node of a FlowDefinition's graph (spec §3.2).
type StateDefinition struct {
	Type           StateType               `json:"type"`
	Actions        []executor.ActionSpec   `json:"actions,omitempty"`
	Transitions    map[string]string       `json:"transitions,omitempty"`
	Conditions     []Condition             `json:"conditions,omitempty"`
	TimeoutSeconds int                     `json:"timeout_seconds,omitempty"`
	OnEnter        []executor.ActionSpec   `json:"on_enter,omitempty"`
	OnExit         []executor.ActionSpec   `json:"on_exit,omitempty"`
}

// FlowDefinition is one versioned flow graph (spec §3.2).
type FlowDefinition struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Description  string                     `json:"description,omitempty"`
	Module       string                     `json:"module"`
	Trigger      string                     `json:"trigger"`
	States       map[string]StateDefinition `json:"states"`
	InitialState string                     `json:"initial_state"`
	FinalStates  []string                   `json:"final_states"`
	Enabled      bool                       `json:"enabled"`
	Version      int                        `json:"version"`
	FallbackFlow bool                       `json:"is_fallback_flow,omitempty"`
}

// Validate checks the structural invariants of spec §3.2.
func (f *FlowDefinition) Validate() error {
	if _, ok := f.States[f.InitialState]; !ok {
		return &ValidationError{Reason: "initial_state not defined in states"}
	}
	if f.States[f.InitialState].Type == StateEnd {
		return &ValidationError{Reason: "initial_state cannot be a final state"}
	}
	finalSet := make(map[string]bool, len(f.FinalStates))
	for _, name := range f.FinalStates {
		st, ok := f.States[name]
		if !ok {
			return &ValidationError{Reason: "final_states entry " + name + " not defined"}
		}
		if st.Type != StateEnd {
			return &ValidationError{Reason: "final_states entry " + name + " is not type end"}
		}
		finalSet[name] = true
	}
	for name, st := range f.States {
		for _, target := range st.Transitions {
			if _, ok := f.States[target]; !ok {
				return &ValidationError{Reason: "state " + name + " transitions to undefined state " + target}
			}
		}
		for _, cond := range st.Conditions {
			if _, ok := f.States[cond.Then]; !ok {
				return &ValidationError{Reason: "state " + name + " condition targets undefined state " + cond.Then}
			}
		}
	}
	return nil
}

type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "invalid flow definition: " + e.Reason }
