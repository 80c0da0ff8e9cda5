// Package router implements the Intent Router of spec §4.6: classifying
// an inbound message against the session's in-flight run and the NLU
// service to decide whether to resume a flow, start one, ask for
// clarification, or no-op. Grounded on the numbered-step Handle pipeline
// idiom of other_examples' hieuntg81-alfred-ai router.go (resolve state,
// run the decision steps in order, return one outcome), rewritten around
// this module's FlowContext/Session/NLU types instead of chat-agent
// sessions.
package router

import (
	"context"
	"strings"

	"flowline.dev/executor"
	"flowline.dev/flow"
	"flowline.dev/nlu"
	"flowline.dev/session"
)

// DecisionKind selects which of the four Intent Router outcomes applies
// (spec §4.6).
type DecisionKind string

const (
	DecisionResumeFlow        DecisionKind = "resume_flow"
	DecisionStartFlow         DecisionKind = "start_flow"
	DecisionAskClarification  DecisionKind = "ask_clarification"
	DecisionNoOp              DecisionKind = "no_op"
)

// Decision is the Intent Router's output.
type Decision struct {
	Kind           DecisionKind
	RunID          string
	FlowID         string
	Classification nlu.ClassifyResult
	Prompt         string

	// AuthDetour is true when FlowID names the auth flow because the
	// classified intent requires authentication the session doesn't yet
	// have (spec §4.6 step 4). The caller stashes the original intent as
	// session.pending_intent so ApplyPendingIntent can replay it once
	// the auth flow completes.
	AuthDetour bool
}

// escapeWords skip resuming an in-flight run regardless of its state
// (spec §4.6 step 1 exception): the text is classified and routed as a
// fresh message. Route does not change the in-flight run's status or
// clear pending_intent.
var escapeWords = map[string]bool{"cancel": true, "restart": true}

// AuthRequiredIntents names intents whose target action requires
// session.authenticated == true (spec §4.6 step 4). Configured per
// deployment; kept as a simple set here since the spec leaves the
// authorization mapping itself out of scope.
type AuthRequiredIntents map[string]bool

// Router is the Intent Router.
type Router struct {
	classifier     nlu.Classifier
	flows          *flow.Store
	highConfidence float64
	authRequired   AuthRequiredIntents
	authFlowID     string
	defaultFlowID  string // NoOp "general conversation" flow (spec §4.6 decision 4)
}

func NewRouter(classifier nlu.Classifier, flows *flow.Store, highConfidence float64, authRequired AuthRequiredIntents, authFlowID, defaultFlowID string) *Router {
	if highConfidence <= 0 {
		highConfidence = 0.80
	}
	return &Router{
		classifier:     classifier,
		flows:          flows,
		highConfidence: highConfidence,
		authRequired:   authRequired,
		authFlowID:     authFlowID,
		defaultFlowID:  defaultFlowID,
	}
}

// Route implements the spec §4.6 algorithm.
func (r *Router) Route(ctx context.Context, text string, sess *session.Session, activeRun *executor.FlowContext) (Decision, error) {
	// 1. in-flight, non-terminal run.
	if activeRun != nil && isNonTerminal(activeRun.Status) {
		if escapeWords[strings.ToLower(strings.TrimSpace(text))] {
			return r.classifyAndDecide(ctx, text, sess)
		}
		return Decision{Kind: DecisionResumeFlow, RunID: activeRun.RunID}, nil
	}

	return r.classifyAndDecide(ctx, text, sess)
}

func (r *Router) classifyAndDecide(ctx context.Context, text string, sess *session.Session) (Decision, error) {
	// 2. classify.
	result, err := r.classifier.Classify(ctx, nlu.ClassifyRequest{
		Text:                text,
		RecipientID:         sess.RecipientID,
		ConversationHistory: sess.ConversationHistory,
	})
	if err != nil {
		return Decision{}, err
	}

	// 3. high confidence + enabled trigger flow.
	if result.Confidence >= r.highConfidence {
		if def, ok := r.flows.ByTrigger(result.Intent); ok {
			// 4. auth detour.
			if r.authRequired[result.Intent] && !sess.Authenticated && r.authFlowID != "" {
				return Decision{
					Kind:           DecisionStartFlow,
					FlowID:         r.authFlowID,
					Classification: result,
					AuthDetour:     true,
				}, nil
			}
			return Decision{Kind: DecisionStartFlow, FlowID: def.ID, Classification: result}, nil
		}
	}

	// 5. fallback flow for the intent's module.
	if module, ok := r.moduleForIntent(result.Intent); ok {
		if def, ok := r.flows.FallbackForModule(module); ok {
			return Decision{Kind: DecisionStartFlow, FlowID: def.ID, Classification: result}, nil
		}
	}

	// Small-talk / guest browsing default flow, before giving up to
	// AskClarification (spec §4.6 decision "NoOp").
	if result.Intent == "greeting" || result.Intent == "help" {
		if r.defaultFlowID != "" {
			return Decision{Kind: DecisionNoOp, FlowID: r.defaultFlowID, Classification: result}, nil
		}
	}

	// 6. clarify.
	return Decision{Kind: DecisionAskClarification, Classification: result, Prompt: clarificationPrompt(result)}, nil
}

func (r *Router) moduleForIntent(intent string) (string, bool) {
	parts := strings.SplitN(intent, ".", 2)
	if len(parts) == 2 {
		return parts[0], true
	}
	return "", false
}

func clarificationPrompt(result nlu.ClassifyResult) string {
	return "I'm not sure I understood — could you tell me a bit more about what you need?"
}

func isNonTerminal(status executor.RunStatus) bool {
	switch status {
	case executor.RunCompleted, executor.RunFailed, executor.RunCancelled, executor.RunAbandoned:
		return false
	default:
		return true
	}
}

// ApplyPendingIntent builds the re-invocation Decision for the stashed
// pending_intent once the auth flow completes (spec §4.6
// "Pending-intent resumption"). Returns ok=false when there is none.
func (r *Router) ApplyPendingIntent(ctx context.Context, sess *session.Session) (Decision, bool, error) {
	if sess.PendingIntent == nil {
		return Decision{}, false, nil
	}
	pending := sess.PendingIntent
	decision, err := r.Route(ctx, pending.Text, sess, nil)
	return decision, true, err
}

