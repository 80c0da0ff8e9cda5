// Package preference implements the Preference Enricher (spec §4.8): a
// fire-and-forget LLM extraction pass that reads one conversation turn
// and writes confirmed/pending user attributes, never blocking the
// reply path. Grounded on picoclaw's pkg/memory/extractor.go
// ExtractAndConsolidate pipeline (fixed extraction prompt, parse JSON,
// log-and-continue on failure), rewritten around categorized attribute
// keys and confidence tiers instead of free-text facts and vector
// consolidation.
package preference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flowline.dev/common"
	"flowline.dev/llm"
	"flowline.dev/log"
	"flowline.dev/persistence"
)

// Category is one of the four preference groupings named by spec §3.6.
type Category string

const (
	CategoryDietary       Category = "dietary"
	CategoryShopping      Category = "shopping"
	CategoryCommunication Category = "communication"
	CategoryPersonality   Category = "personality"
)

// keyWeight names the completeness weight for an attribute key, and
// whether it is required for a "complete" profile. Weights are a
// deliberate, disclosed constant table since the spec names the
// completeness update as deterministic but leaves the exact weights to
// the implementation.
type keyWeight struct {
	Category Category
	Required bool
	Weight   float64
}

var profileSchema = map[string]keyWeight{
	"dietary.restrictions":     {CategoryDietary, true, 15},
	"dietary.spice_level":      {CategoryDietary, false, 5},
	"shopping.budget_tier":     {CategoryShopping, true, 15},
	"shopping.preferred_brand": {CategoryShopping, false, 5},
	"communication.language":   {CategoryCommunication, true, 15},
	"communication.tone":       {CategoryCommunication, false, 5},
	"personality.interests":    {CategoryPersonality, false, 10},
	"personality.pace":         {CategoryPersonality, false, 5},
}

const extractionSystemPrompt = `You extract user preferences from a single conversation turn.
Recognized keys (category.key): dietary.restrictions, dietary.spice_level, shopping.budget_tier,
shopping.preferred_brand, communication.language, communication.tone, personality.interests, personality.pace.
For each preference you can confidently infer, output one JSON object with fields:
key (one of the recognized keys), value (string), confidence (0..1 float).
Return a JSON array of these objects, or [] if nothing can be inferred.
Return ONLY the JSON array, no prose, no markdown fences.`

// extracted is one LLM-reported preference candidate, before confidence
// gating.
type extracted struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

const (
	highConfidence   = 0.85
	mediumConfidence = 0.70
	cooldown         = 24 * time.Hour
)

// Enricher runs the extraction pipeline and persists results.
type Enricher struct {
	provider  llm.Provider
	model     string
	profiles  ProfileStore
	logger    *log.Logger
	confirmer ConfirmationSink
}

// ProfileStore persists UserProfiles, narrowed from
// *persistence.ProfileRepository so the enrichment and confirmation
// logic can be exercised against an in-memory fake in tests.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (persistence.UserProfile, error)
	Save(ctx context.Context, profile persistence.UserProfile) error
}

// ConfirmationSink enqueues a pending-attribute confirmation question for
// later delivery to the user (typically via the Outbound Dispatcher on
// the recipient's next turn). key/value identify the profile attribute
// the question is about, so the eventual reply can be tied back to it.
type ConfirmationSink interface {
	EnqueueConfirmation(ctx context.Context, recipientID, key, value, question string) error
}

func NewEnricher(provider llm.Provider, model string, profiles ProfileStore, confirmer ConfirmationSink, logger *log.Logger) *Enricher {
	return &Enricher{provider: provider, model: model, profiles: profiles, confirmer: confirmer, logger: logger}
}

// Enrich runs the full pipeline for one turn. Intended to be called in
// its own goroutine by the Conversation Service with a bounded-duration
// context (spec §4.7 step 7, "time budget ≤ 2s"); failures are logged
// and swallowed, never propagated to the reply path.
func (e *Enricher) Enrich(ctx context.Context, userID, recipientID, message string, recentHistory []common.ConversationLogEntry) {
	if err := e.enrich(ctx, userID, recipientID, message, recentHistory); err != nil {
		e.logger.WithField("user_id", userID).WithError(err).Warn("preference enrichment failed")
	}
}

func (e *Enricher) enrich(ctx context.Context, userID, recipientID, message string, recentHistory []common.ConversationLogEntry) error {
	if userID == "" || strings.TrimSpace(message) == "" {
		return nil
	}

	messages := []llm.Message{{Role: "system", Content: extractionSystemPrompt}}
	for _, turn := range recentHistory {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: message})

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("extraction call: %w", err)
	}

	items, err := parseExtracted(resp.Content)
	if err != nil {
		return fmt.Errorf("parse extraction response: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	profile, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	now := time.Now()
	changed := false
	for _, item := range items {
		if _, known := profileSchema[item.Key]; !known {
			continue
		}
		switch {
		case item.Confidence >= highConfidence:
			profile.Attributes[item.Key] = item.Value
			delete(profile.Pending, item.Key)
			changed = true
		case item.Confidence >= mediumConfidence:
			if e.onCooldown(profile, item.Key, now) {
				continue
			}
			profile.Pending[item.Key] = persistence.PendingAttribute{
				Value:      item.Value,
				Confidence: item.Confidence,
				AskedAt:    now.Format(time.RFC3339),
			}
			changed = true
			if e.confirmer != nil {
				if err := e.confirmer.EnqueueConfirmation(ctx, recipientID, item.Key, item.Value, confirmationQuestion(item.Key, item.Value)); err != nil {
					e.logger.WithError(err).Warn("failed to enqueue preference confirmation")
				}
			}
		default:
			// c < 0.70: discard.
		}
	}

	if !changed {
		return nil
	}
	profile.Completeness = completeness(profile.Attributes)
	if err := e.profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// ApplyConfirmation resolves a pending attribute once the user answers
// the confirmation question the medium-confidence tier raised (spec
// §4.8): a "yes" promotes profile.Pending[key] into profile.Attributes[key]
// at confidence 1.0, a "no" just discards the pending entry. Either way
// the pending entry is cleared so a stale answer can't be re-applied.
func (e *Enricher) ApplyConfirmation(ctx context.Context, userID, key string, confirmed bool) error {
	if userID == "" || key == "" {
		return nil
	}

	profile, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	pending, ok := profile.Pending[key]
	if !ok {
		return nil
	}
	delete(profile.Pending, key)
	if confirmed {
		profile.Attributes[key] = pending.Value
	}
	profile.Completeness = completeness(profile.Attributes)

	if err := e.profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (e *Enricher) onCooldown(profile persistence.UserProfile, key string, now time.Time) bool {
	pending, ok := profile.Pending[key]
	if !ok {
		return false
	}
	askedAt, err := time.Parse(time.RFC3339, pending.AskedAt)
	if err != nil {
		return false
	}
	return now.Sub(askedAt) < cooldown
}

func completeness(attrs map[string]interface{}) float64 {
	var total, filled float64
	for key, w := range profileSchema {
		total += w.Weight
		if _, ok := attrs[key]; ok {
			filled += w.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return (filled / total) * 100
}

func confirmationQuestion(key, value string) string {
	return fmt.Sprintf("Quick check — did I get it right that your %s is %q? (yes/no)", strings.ReplaceAll(key, ".", " "), value)
}

func parseExtracted(content string) ([]extracted, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	var items []extracted
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, err
	}
	return items, nil
}
