// Package conversation implements the Conversation Service of spec §4.7:
// the per-message pipeline tying the Session Store, Intent Router, Flow
// Engine, Outbound Dispatcher, Persistence, and Preference Enricher
// together. Grounded on the teacher's coordinator-style "load state,
// drive the engine, commit side effects" shape (db/state_store.go's
// phase-transition methods) and on hieuntg81-alfred-ai's numbered-step
// router.Handle pipeline idiom already reused in this module's own
// router package, generalized here to the full inbound-to-outbound turn.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"flowline.dev/channel"
	"flowline.dev/common"
	"flowline.dev/executor"
	"flowline.dev/flow"
	"flowline.dev/log"
	"flowline.dev/persistence"
	"flowline.dev/preference"
	"flowline.dev/router"
	"flowline.dev/session"
	"flowline.dev/statemanager"
)

// inboundDeadline bounds a single turn's processing wall-clock (spec §5
// "Inbound handling has a wall-clock deadline (default 8s)").
const inboundDeadline = 8 * time.Second

// enrichmentBudget bounds the fire-and-forget Preference Enricher call
// (spec §4.7 step 7).
const enrichmentBudget = 2 * time.Second

// Service is the Conversation Service.
type Service struct {
	sessions   session.Store
	dispatcher *channel.Dispatcher
	router     *router.Router
	engine     *flow.Engine
	flows      *flow.Store
	tracker    *ActiveRunTracker

	runs      *persistence.RunRepository
	messages  *persistence.MessageRepository
	enricher  *preference.Enricher

	// authFlowID names the flow the Intent Router detours unauthenticated
	// users into (router.AuthFlowID). Once a run against this flow ID
	// reaches RunCompleted, HandleInbound replays any stashed
	// session.PendingIntent (spec §4.6 "Pending-intent resumption").
	authFlowID string

	// ops exposes in-flight/recent flow runs over HTTP for operators
	// (statemanager.Manager's RegisterRoutes, mounted by cli/serve.go),
	// independent of tracker (resume cache) and runs (durable history).
	ops *statemanager.Manager

	logger *log.Logger
}

func NewService(
	sessions session.Store,
	dispatcher *channel.Dispatcher,
	rtr *router.Router,
	engine *flow.Engine,
	flows *flow.Store,
	tracker *ActiveRunTracker,
	runs *persistence.RunRepository,
	messages *persistence.MessageRepository,
	enricher *preference.Enricher,
	ops *statemanager.Manager,
	authFlowID string,
	logger *log.Logger,
) *Service {
	return &Service{
		sessions:   sessions,
		dispatcher: dispatcher,
		router:     rtr,
		engine:     engine,
		flows:      flows,
		tracker:    tracker,
		runs:       runs,
		messages:   messages,
		enricher:   enricher,
		ops:        ops,
		authFlowID: authFlowID,
		logger:     logger,
	}
}

// HandleInbound runs the full spec §4.7 pipeline for one InboundMessage.
func (s *Service) HandleInbound(parent context.Context, msg common.InboundMessage) error {
	ctx, cancel := context.WithTimeout(parent, inboundDeadline)
	defer cancel()

	logger := s.logger.WithFields(map[string]interface{}{
		"recipient_id": msg.RecipientID,
		"platform":     msg.Platform,
	})

	// 1. normalize+touch session; write platform tag.
	sess, _, err := s.sessions.EnsureCreated(ctx, msg.RecipientID, msg.Platform)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	// 2. append user turn (spec §4.7 step 2 "async"): the durable
	// transcript write and the session's rolling history write are
	// independent, so they fan out via errgroup instead of serializing
	// two round trips before routing even starts.
	var appendTurn errgroup.Group
	appendTurn.Go(func() error {
		if s.messages == nil {
			return nil
		}
		return s.messages.AppendInbound(ctx, msg.RecipientID, msg)
	})
	appendTurn.Go(func() error {
		return s.sessions.AppendHistory(ctx, msg.RecipientID, "user: "+msg.Text)
	})
	if err := appendTurn.Wait(); err != nil {
		logger.WithError(err).Warn("failed to record inbound turn")
	}

	// 2b. a confirmation question raised by the Preference Enricher (spec
	// §4.8) is pending for this recipient: a recognized yes/no reply
	// answers it directly instead of being routed as an ordinary turn.
	if sess.PendingConfirmation != nil {
		if affirmed, recognized := parseConfirmationReply(msg.Text); recognized {
			s.applyPendingConfirmation(ctx, sess, msg, affirmed, logger)
			return nil
		}
	}

	outbound, fctx, flowID, err := s.driveConversation(ctx, sess, msg)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("inbound handling deadline exceeded")
			outbound = append(outbound, common.OutboundMessage{
				Kind: common.OutboundText, RecipientID: msg.RecipientID, Platform: msg.Platform,
				Text: "sorry, that took longer than expected — please try again in a moment",
			})
		} else {
			return err
		}
	}

	// 4b. the auth flow just reached its success terminal: replay any
	// intent stashed before the detour (spec §4.6 "Pending-intent
	// resumption").
	if err == nil && s.authFlowID != "" && flowID == s.authFlowID && fctx != nil && fctx.Status == executor.RunCompleted {
		s.tracker.Put(sess.RecipientID, flowID, fctx)
		if s.runs != nil {
			if saveErr := s.runs.Save(context.Background(), flowID, fctx); saveErr != nil {
				logger.WithError(saveErr).Warn("failed to persist completed auth run")
			}
		}
		s.recordOperation(flowID, fctx)

		// the flow itself can only write fctx.Variables/CollectedData (the
		// "set" executor never touches the session), so the Conversation
		// Service is the one place that flips session.authenticated —
		// otherwise ApplyPendingIntent's re-route would detour into the
		// auth flow forever.
		if err := s.sessions.SetData(ctx, sess.RecipientID, "authenticated", true); err != nil {
			logger.WithError(err).Warn("failed to mark session authenticated")
		}
		if userID, ok := fctx.Variables["user_id"].(string); ok && userID != "" {
			if err := s.sessions.SetData(ctx, sess.RecipientID, "user_id", userID); err != nil {
				logger.WithError(err).Warn("failed to record authenticated user_id")
			}
		}

		resumedOutbound, resumedFctx, resumedFlowID, resumeErr := s.resumePendingIntent(ctx, sess.RecipientID, logger)
		if resumeErr != nil {
			logger.WithError(resumeErr).Warn("failed to resume pending intent after auth")
		}
		outbound = append(outbound, resumedOutbound...)
		fctx, flowID = resumedFctx, resumedFlowID
	}

	// 5. commit queued outbound in order.
	for _, out := range outbound {
		if out.Platform == "" {
			out.Platform = sess.Platform
		}
		if err := s.dispatcher.Send(ctx, out); err != nil {
			logger.WithError(err).Warn("failed to dispatch outbound message")
			continue
		}
		// 6. append assistant turns.
		if s.messages != nil {
			if err := s.messages.AppendOutbound(ctx, msg.RecipientID, out); err != nil {
				logger.WithError(err).Warn("failed to append outbound message")
			}
		}
		if out.Text != "" {
			if err := s.sessions.AppendHistory(ctx, msg.RecipientID, "assistant: "+out.Text); err != nil {
				logger.WithError(err).Warn("failed to append conversation history")
			}
		}
	}

	if fctx != nil {
		s.tracker.Put(sess.RecipientID, flowID, fctx)
		if s.runs != nil {
			if err := s.runs.Save(context.Background(), flowID, fctx); err != nil {
				logger.WithError(err).Warn("failed to persist flow run")
			}
		}
		s.recordOperation(flowID, fctx)
	}

	// 7. fire-and-forget preference enrichment, bounded and never
	// blocking the reply path already sent above.
	if s.enricher != nil && sess.UserID != "" {
		go func(userID, recipientID, text string, history []string) {
			enrichCtx, cancel := context.WithTimeout(context.Background(), enrichmentBudget)
			defer cancel()
			s.enricher.Enrich(enrichCtx, userID, recipientID, text, toLogEntries(history))
		}(sess.UserID, sess.RecipientID, msg.Text, append([]string(nil), sess.ConversationHistory...))
	}

	return nil
}

// driveConversation implements steps 3-4: route, then drive the engine
// to its next suspend/terminal point.
func (s *Service) driveConversation(ctx context.Context, sess *session.Session, msg common.InboundMessage) ([]common.OutboundMessage, *executor.FlowContext, string, error) {
	flowID, fctx, active := s.tracker.Get(sess.RecipientID)
	if !active && s.runs != nil {
		// Cache miss can mean "no run" or "another node owns the live
		// copy and we were invalidated" (persistence.RunRepository.Listen).
		// Check Postgres before concluding the session is idle.
		if rfctx, rflowID, err := s.runs.ActiveBySession(ctx, sess.RecipientID); err == nil && rfctx != nil {
			flowID, fctx, active = rflowID, rfctx, true
			s.tracker.Put(sess.RecipientID, flowID, fctx)
		}
	}

	decision, err := s.router.Route(ctx, msg.Text, sess, activeRunContext(active, fctx))
	if err != nil {
		return nil, nil, "", fmt.Errorf("route: %w", err)
	}

	switch decision.Kind {
	case router.DecisionResumeFlow:
		def, ok := s.flows.Get(flowID)
		if !ok {
			return nil, nil, "", fmt.Errorf("resume: flow %s not found", flowID)
		}
		result, err := s.engine.Step(ctx, def, fctx, flowDataView(sess), "", &msg)
		if err != nil {
			return nil, nil, "", fmt.Errorf("step flow %s: %w", flowID, err)
		}
		return result.Outbound, result.Context, flowID, nil

	case router.DecisionStartFlow, router.DecisionNoOp:
		runID := uuid.New().String()
		result, err := s.engine.Start(ctx, decision.FlowID, runID, sess.RecipientID, flowDataView(sess))
		if err != nil {
			return nil, nil, "", fmt.Errorf("start flow %s: %w", decision.FlowID, err)
		}
		if decision.AuthDetour {
			if err := s.sessions.SetData(ctx, sess.RecipientID, "pending_intent", &session.PendingIntent{
				Intent:   decision.Classification.Intent,
				Entities: decision.Classification.Entities,
				Text:     msg.Text,
			}); err != nil {
				s.logger.WithError(err).Warn("failed to stash pending intent")
			}
		}
		return result.Outbound, result.Context, decision.FlowID, nil

	case router.DecisionAskClarification:
		return []common.OutboundMessage{{
			Kind: common.OutboundText, RecipientID: sess.RecipientID, Text: decision.Prompt,
		}}, nil, "", nil

	default:
		return nil, nil, "", nil
	}
}

// resumePendingIntent replays a stashed session.PendingIntent once the
// auth flow completes, via router.ApplyPendingIntent (spec §4.6
// "Pending-intent resumption"). The stash is cleared regardless of
// outcome so a failed replay can't leave it dangling for a later turn.
// Returns a nil FlowContext and empty flowID when there was nothing
// pending, or when the replay only produced a clarification prompt.
func (s *Service) resumePendingIntent(ctx context.Context, recipientID string, logger *log.Logger) ([]common.OutboundMessage, *executor.FlowContext, string, error) {
	sess, found, err := s.sessions.Get(ctx, recipientID)
	if err != nil || !found || sess.PendingIntent == nil {
		return nil, nil, "", err
	}

	decision, ok, err := s.router.ApplyPendingIntent(ctx, sess)
	if clearErr := s.sessions.SetData(ctx, recipientID, "pending_intent", nil); clearErr != nil {
		logger.WithError(clearErr).Warn("failed to clear pending intent")
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("apply pending intent: %w", err)
	}
	if !ok {
		return nil, nil, "", nil
	}

	switch decision.Kind {
	case router.DecisionStartFlow, router.DecisionNoOp:
		runID := uuid.New().String()
		result, err := s.engine.Start(ctx, decision.FlowID, runID, recipientID, flowDataView(sess))
		if err != nil {
			return nil, nil, "", fmt.Errorf("start resumed flow %s: %w", decision.FlowID, err)
		}
		return result.Outbound, result.Context, decision.FlowID, nil

	case router.DecisionAskClarification:
		return []common.OutboundMessage{{
			Kind: common.OutboundText, RecipientID: recipientID, Text: decision.Prompt,
		}}, nil, "", nil

	default:
		return nil, nil, "", nil
	}
}

// recordOperation mirrors a flow run's lifecycle into the operator-facing
// statemanager.Manager, if one is wired. Best-effort, observability only.
func (s *Service) recordOperation(flowID string, fctx *executor.FlowContext) {
	if s.ops == nil {
		return
	}
	if s.ops.GetOperation(fctx.RunID) == nil {
		s.ops.StartOperation(fctx.RunID, "flow:"+flowID, map[string]interface{}{
			"session_id": fctx.SessionID,
			"state":      fctx.CurrentState,
		})
	}
	switch fctx.Status {
	case executor.RunCompleted:
		s.ops.CompleteOperation(fctx.RunID, nil)
	case executor.RunFailed:
		var err error = fmt.Errorf("flow run failed in state %s", fctx.CurrentState)
		if fctx.LastError != nil {
			err = fmt.Errorf("%s: %s", fctx.LastError.Kind, fctx.LastError.Message)
		}
		s.ops.CompleteOperation(fctx.RunID, err)
	}
}

func activeRunContext(active bool, fctx *executor.FlowContext) *executor.FlowContext {
	if !active {
		return nil
	}
	return fctx
}

// flowDataView exposes the session's flow-scoped scratch data to the
// engine's variable interpolation without handing it the whole Session.
func flowDataView(sess *session.Session) map[string]interface{} {
	if sess.FlowData == nil {
		return map[string]interface{}{}
	}
	return sess.FlowData
}

// applyPendingConfirmation resolves a recognized yes/no reply to the
// recipient's pending confirmation question (spec §4.8), promoting or
// discarding the pending attribute via the Preference Enricher, then
// sends a short acknowledgement in place of a routed reply.
func (s *Service) applyPendingConfirmation(ctx context.Context, sess *session.Session, msg common.InboundMessage, affirmed bool, logger *log.Logger) {
	pending := sess.PendingConfirmation

	if s.enricher != nil && sess.UserID != "" {
		if err := s.enricher.ApplyConfirmation(ctx, sess.UserID, pending.Key, affirmed); err != nil {
			logger.WithError(err).Warn("failed to apply preference confirmation")
		}
	}
	if err := s.sessions.SetData(ctx, sess.RecipientID, "pending_confirmation", nil); err != nil {
		logger.WithError(err).Warn("failed to clear pending confirmation")
	}

	ack := common.OutboundMessage{
		Kind: common.OutboundText, RecipientID: msg.RecipientID, Platform: msg.Platform,
		Text: confirmationAck(affirmed),
	}
	if err := s.dispatcher.Send(ctx, ack); err != nil {
		logger.WithError(err).Warn("failed to dispatch confirmation ack")
		return
	}
	if s.messages != nil {
		if err := s.messages.AppendOutbound(ctx, msg.RecipientID, ack); err != nil {
			logger.WithError(err).Warn("failed to append outbound message")
		}
	}
	if err := s.sessions.AppendHistory(ctx, msg.RecipientID, "assistant: "+ack.Text); err != nil {
		logger.WithError(err).Warn("failed to append conversation history")
	}
}

func confirmationAck(affirmed bool) string {
	if affirmed {
		return "Got it, thanks for confirming!"
	}
	return "Thanks, I'll forget that then."
}

// parseConfirmationReply recognizes a yes/no answer to a pending
// confirmation question, including common Hindi transliterations since
// the channel normalizer doesn't translate inbound text (spec §4.2).
// recognized is false for anything else, leaving the message to route
// normally.
func parseConfirmationReply(text string) (affirmed bool, recognized bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "yeah", "yep", "yup", "correct", "right", "haan", "han", "ha", "sahi":
		return true, true
	case "no", "n", "nope", "nah", "incorrect", "wrong", "nahi", "nahin", "galat":
		return false, true
	default:
		return false, false
	}
}

func toLogEntries(history []string) []common.ConversationLogEntry {
	entries := make([]common.ConversationLogEntry, 0, len(history))
	for _, h := range history {
		entries = append(entries, common.ConversationLogEntry{Content: h})
	}
	return entries
}
