package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowline.dev/common"
	"flowline.dev/executor"
	"flowline.dev/log"
)

// StepResult is returned to the Conversation Service after driving a run
// to its next suspend/terminal point.
type StepResult struct {
	Context  *executor.FlowContext
	Outbound []common.OutboundMessage
}

// Engine executes FlowDefinitions over FlowContext values — the Flow
// Engine of spec §4.5. Grounded on the teacher's workflow package for the
// overall "load definition, walk states, apply side effects" shape, fully
// rewritten around this module's own StateDefinition/transitions/
// conditions model rather than schema.org actions.
type Engine struct {
	registry *executor.Registry
	store    *Store
	logger   *log.Logger

	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	// OnTimeout is invoked (in its own goroutine) when an input state's
	// timeout fires, so the Conversation Service can re-drive the run
	// with event="timeout". Left nil, timers simply expire silently —
	// acceptable for tests that don't exercise timeout behavior.
	OnTimeout func(runID string)
}

func NewEngine(registry *executor.Registry, store *Store, logger *log.Logger) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
		logger:   logger,
		runLocks: make(map[string]*sync.Mutex),
		timers:   make(map[string]*time.Timer),
	}
}

func (e *Engine) lockFor(runID string) *sync.Mutex {
	e.runLocksMu.Lock()
	defer e.runLocksMu.Unlock()
	l, ok := e.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		e.runLocks[runID] = l
	}
	return l
}

// Start creates a new FlowContext for flowID and drives it to its first
// suspend/terminal point.
func (e *Engine) Start(ctx context.Context, flowID, runID, sessionID string, session map[string]interface{}) (StepResult, error) {
	def, ok := e.store.Get(flowID)
	if !ok {
		return StepResult{}, fmt.Errorf("flow %s not found", flowID)
	}
	fctx := executor.NewFlowContext(runID, def.ID, def.Version, sessionID, def.InitialState)
	return e.drive(ctx, def, fctx, session, "", nil, true)
}

// Step resumes an in-flight run with an inbound user message (or a
// synthetic event, e.g. "timeout" or "cancel"). The resumed state is not
// a fresh entry — its on-entry actions (e.g. an input state's prompt)
// already ran when the run first suspended there.
func (e *Engine) Step(ctx context.Context, def FlowDefinition, fctx *executor.FlowContext, session map[string]interface{}, event string, input *common.InboundMessage) (StepResult, error) {
	return e.drive(ctx, def, fctx, session, event, input, false)
}

// Cancel marks fctx cancelled; honored at the next step boundary (spec
// §4.5 "Cancellation").
func (e *Engine) Cancel(fctx *executor.FlowContext) {
	fctx.Status = executor.RunCancelled
	fctx.UpdatedAt = time.Now()
}

func (e *Engine) drive(ctx context.Context, def FlowDefinition, fctx *executor.FlowContext, session map[string]interface{}, incomingEvent string, input *common.InboundMessage, fresh bool) (StepResult, error) {
	lock := e.lockFor(fctx.RunID)
	lock.Lock()
	defer lock.Unlock()

	var outbound []common.OutboundMessage
	event := incomingEvent

	for {
		if fctx.Status == executor.RunCancelled {
			return StepResult{Context: fctx, Outbound: outbound}, nil
		}

		state, ok := def.States[fctx.CurrentState]
		if !ok {
			return e.fail(fctx, common.ErrSchemaError, fmt.Sprintf("undefined state %q", fctx.CurrentState), outbound)
		}

		// 1. terminal.
		if state.Type == StateEnd {
			fctx.Status = executor.RunCompleted
			fctx.UpdatedAt = time.Now()
			return StepResult{Context: fctx, Outbound: outbound}, nil
		}

		// 3. conditions, evaluated on entry only, before transitions/actions.
		if fresh {
			view := executor.ContextView(fctx, session)
			if next, matched := e.matchCondition(state.Conditions, view); matched {
				fctx.PreviousState = fctx.CurrentState
				fctx.CurrentState = next
				fctx.StateHistory = append(fctx.StateHistory, next)
				fctx.UpdatedAt = time.Now()
				event = ""
				input = nil
				continue
			}
		}

		// Input states run their entry actions (e.g. sending the prompt)
		// once, on fresh entry, then suspend awaiting the user's reply.
		if state.Type == StateInput {
			if fresh {
				if _, out, err := e.runActions(ctx, state.Actions, fctx, input); err != nil {
					return e.fail(fctx, common.ErrDeadlineExceeded, err.Error(), outbound)
				} else {
					outbound = append(outbound, out...)
				}
			}
			if input == nil && event == "" {
				fctx.Status = executor.RunSuspended
				fctx.UpdatedAt = time.Now()
				e.scheduleTimeout(fctx.RunID, state.TimeoutSeconds)
				return StepResult{Context: fctx, Outbound: outbound}, nil
			}
		}
		e.cancelTimeout(fctx.RunID)

		// 4. resolve the transition event: from actions (action states),
		// from the incoming event (input/decision states resuming with a
		// reply or a synthetic event), or decision-by-conditions-only.
		resolvedEvent := event
		switch {
		case state.Type == StateAction:
			var out []common.OutboundMessage
			var err error
			resolvedEvent, out, err = e.runActions(ctx, state.Actions, fctx, input)
			if err != nil {
				return e.fail(fctx, common.ErrDeadlineExceeded, err.Error(), outbound)
			}
			outbound = append(outbound, out...)
		case state.Type == StateInput:
			if resolvedEvent == "" {
				resolvedEvent = "user_message"
			}
		case state.Type == StateDecision:
			return e.fail(fctx, common.ErrUnhandledEvent, "decision state matched no condition", outbound)
		}

		// 5. follow transition.
		target, ok := state.Transitions[resolvedEvent]
		if !ok {
			return e.fail(fctx, common.ErrUnhandledEvent, fmt.Sprintf("no transition for event %q in state %q", resolvedEvent, fctx.CurrentState), outbound)
		}

		fctx.PreviousState = fctx.CurrentState
		fctx.CurrentState = target
		fctx.StateHistory = append(fctx.StateHistory, target)
		fctx.UpdatedAt = time.Now()
		event = ""
		input = nil
		fresh = true
	}
}

func (e *Engine) matchCondition(conditions []Condition, view map[string]interface{}) (string, bool) {
	for _, c := range conditions {
		if evalCondition(c.If, view) {
			return c.Then, true
		}
	}
	return "", false
}

func (e *Engine) runActions(ctx context.Context, actions []executor.ActionSpec, fctx *executor.FlowContext, input *common.InboundMessage) (string, []common.OutboundMessage, error) {
	var outbound []common.OutboundMessage
	event := "success"

	for i, action := range actions {
		result, err := e.registry.Run(ctx, action, fctx, input, nil)
		if err != nil {
			return "", outbound, err
		}

		if output, ok := result.Output.(map[string]interface{}); ok {
			for k, v := range output {
				fctx.Variables[k] = v
			}
		} else if result.Output != nil {
			fctx.Variables[fmt.Sprintf("action_%d_output", i)] = result.Output
		}

		outbound = append(outbound, result.Outbound...)

		if result.Event != "" {
			event = result.Event
		} else if action.OnSuccess != "" {
			event = action.OnSuccess
		}
		if !result.Success {
			if action.OnError != "" {
				event = action.OnError
			} else {
				event = "error"
			}
		}
	}
	return event, outbound, nil
}

func (e *Engine) fail(fctx *executor.FlowContext, kind common.ErrorKind, message string, outbound []common.OutboundMessage) (StepResult, error) {
	fctx.Status = executor.RunFailed
	fctx.UpdatedAt = time.Now()
	fctx.LastError = &executor.RunError{Kind: kind, Message: message, State: fctx.CurrentState}
	e.logger.WithFields(map[string]interface{}{
		"run_id": fctx.RunID,
		"state":  fctx.CurrentState,
		"kind":   kind,
	}).Warn("flow run failed: " + message)
	return StepResult{Context: fctx, Outbound: outbound}, nil
}

// scheduleTimeout arms a timer keyed by run_id, per spec §4.5 "Timeouts".
// Timers are in-process only and do not survive node loss (spec §5).
func (e *Engine) scheduleTimeout(runID string, seconds int) {
	if seconds <= 0 {
		return
	}
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.timers[runID]; ok {
		t.Stop()
	}
	e.timers[runID] = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		e.timersMu.Lock()
		delete(e.timers, runID)
		e.timersMu.Unlock()
		if e.OnTimeout != nil {
			e.OnTimeout(runID)
		}
	})
}

func (e *Engine) cancelTimeout(runID string) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.timers[runID]; ok {
		t.Stop()
		delete(e.timers, runID)
	}
}
