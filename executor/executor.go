// Package executor implements the Executor Registry of spec §4.4: a pure
// function (ActionSpec.Config, FlowContext, InboundMessage?) ->
// ExecutionResult, dispatched by name rather than by CanHandle-sniffing
// since the teacher's Registry picked an executor by inspecting the
// action payload and this module's ActionSpec already names its executor
// explicitly. Kept from the teacher (executor/executor.go): the
// interface-plus-Registry shape, RetryPolicy/BackoffStrategy, and
// ExecutionHooks lifecycle — generalized from
// *semantic.SemanticScheduledAction onto this module's own ActionSpec and
// FlowContext.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowline.dev/common"
)

// ActionSpec is one step of a StateDefinition's actions list (spec §3.2).
type ActionSpec struct {
	Executor  string                 `json:"executor"`
	Config    map[string]interface{} `json:"config"`
	OnSuccess string                 `json:"on_success,omitempty"`
	OnError   string                 `json:"on_error,omitempty"`
}

// FlowContext is the per-run mutable record the engine threads through
// every action call (spec §3.3).
type FlowContext struct {
	RunID         string                 `json:"run_id"`
	FlowID        string                 `json:"flow_id"`
	FlowVersion   int                    `json:"flow_version"`
	SessionID     string                 `json:"session_id"`
	UserID        string                 `json:"user_id,omitempty"`
	CurrentState  string                 `json:"current_state"`
	PreviousState string                 `json:"previous_state,omitempty"`
	Variables     map[string]interface{} `json:"variables"`
	CollectedData map[string]interface{} `json:"collected_data"`
	StateHistory  []string               `json:"state_history"`
	StartedAt     time.Time              `json:"started_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Status        RunStatus              `json:"status"`
	LastError     *RunError              `json:"last_error,omitempty"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuspended RunStatus = "suspended"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunAbandoned RunStatus = "abandoned"
)

// RunError is FlowContext.LastError's shape (spec §3.3).
type RunError struct {
	Kind    common.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	State   string           `json:"state"`
}

// NewFlowContext starts a fresh run.
func NewFlowContext(runID, flowID string, flowVersion int, sessionID, initialState string) *FlowContext {
	now := time.Now()
	return &FlowContext{
		RunID:         runID,
		FlowID:        flowID,
		FlowVersion:   flowVersion,
		SessionID:     sessionID,
		CurrentState:  initialState,
		Variables:     map[string]interface{}{},
		CollectedData: map[string]interface{}{},
		StateHistory:  []string{initialState},
		StartedAt:     now,
		UpdatedAt:     now,
		Status:        RunRunning,
	}
}

// ExecutionResult is what every executor returns (spec §4.4).
type ExecutionResult struct {
	Success    bool
	Output     interface{}
	Event      string
	Outbound   []common.OutboundMessage
	NextState  string
}

// Executor is a named, pure action implementation.
type Executor interface {
	Name() string
	Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error)
}

// ExecutionError carries a taxonomy kind alongside a human message,
// following the teacher's ExecutionError shape but narrowed to the
// common.ErrorKind taxonomy (spec §7) instead of a free-form Code string.
type ExecutionError struct {
	Kind    common.ErrorKind
	Message string
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// RetryPolicy controls the teacher's retry idiom, narrowed to the one
// shape executors need: a single optional retry on transient failure
// (spec §4.4 "executors should tolerate being retried once on transient
// HTTP failures").
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
}

type BackoffStrategy string

const (
	BackoffFixed BackoffStrategy = "fixed"
	BackoffJitter BackoffStrategy = "jitter"
)

// ExecutionHooks allows callers to observe action lifecycle events —
// kept from the teacher's ExecutionHooks, retargeted onto ActionSpec and
// FlowContext.
type ExecutionHooks struct {
	BeforeExecute func(ctx context.Context, action ActionSpec, fctx *FlowContext)
	AfterExecute  func(ctx context.Context, action ActionSpec, fctx *FlowContext, result ExecutionResult)
	OnError       func(ctx context.Context, action ActionSpec, fctx *FlowContext, err error)
}

// Registry dispatches an ActionSpec to the Executor registered under its
// Executor name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	hooks     *ExecutionHooks
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Name()] = e
}

func (r *Registry) SetHooks(hooks *ExecutionHooks) { r.hooks = hooks }

// Run looks up action.Executor and invokes it, applying RetryPolicy when
// given and the result's error kind is TransientUpstream.
func (r *Registry) Run(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage, retry *RetryPolicy) (ExecutionResult, error) {
	r.mu.RLock()
	ex, ok := r.executors[action.Executor]
	r.mu.RUnlock()
	if !ok {
		return ExecutionResult{}, &ExecutionError{Kind: common.ErrSchemaError, Message: fmt.Sprintf("no executor registered: %q", action.Executor)}
	}

	if r.hooks != nil && r.hooks.BeforeExecute != nil {
		r.hooks.BeforeExecute(ctx, action, fctx)
	}

	result, err := ex.Execute(ctx, action, fctx, input)
	if err != nil && retry != nil && retry.MaxAttempts > 1 && isTransient(err) {
		result, err = ex.Execute(ctx, action, fctx, input)
	}

	if err != nil {
		if r.hooks != nil && r.hooks.OnError != nil {
			r.hooks.OnError(ctx, action, fctx, err)
		}
		return result, err
	}

	if r.hooks != nil && r.hooks.AfterExecute != nil {
		r.hooks.AfterExecute(ctx, action, fctx, result)
	}
	return result, nil
}

func isTransient(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind == common.ErrTransientUpstream
	}
	var orchErr *common.OrchError
	if errors.As(err, &orchErr) {
		return orchErr.Kind == common.ErrTransientUpstream
	}
	return false
}
