package preference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/llm"
	"flowline.dev/log"
	"flowline.dev/persistence"
)

// fakeProfiles is an in-memory ProfileStore for tests, avoiding a real
// Postgres pool.
type fakeProfiles struct {
	byUser map[string]persistence.UserProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{byUser: map[string]persistence.UserProfile{}}
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (persistence.UserProfile, error) {
	if p, ok := f.byUser[userID]; ok {
		return p, nil
	}
	return persistence.UserProfile{UserID: userID, Attributes: map[string]interface{}{}, Pending: map[string]persistence.PendingAttribute{}}, nil
}

func (f *fakeProfiles) Save(ctx context.Context, profile persistence.UserProfile) error {
	f.byUser[profile.UserID] = profile
	return nil
}

// fakeLLM returns a fixed extraction response regardless of input.
type fakeLLM struct{ content string }

func (f fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: f.content}, nil
}

// fakeConfirmer records EnqueueConfirmation calls instead of delivering
// anything.
type fakeConfirmer struct {
	calls []confirmCall
}

type confirmCall struct {
	RecipientID, Key, Value, Question string
}

func (f *fakeConfirmer) EnqueueConfirmation(ctx context.Context, recipientID, key, value, question string) error {
	f.calls = append(f.calls, confirmCall{recipientID, key, value, question})
	return nil
}

func testLogger() *log.Logger { return log.New(log.DefaultConfig(), "preference-test") }

func TestEnrich_MediumConfidence_StashesPendingAndEnqueuesConfirmation(t *testing.T) {
	profiles := newFakeProfiles()
	confirmer := &fakeConfirmer{}
	provider := fakeLLM{content: `[{"key":"dietary.spice_level","value":"mild","confidence":0.75}]`}
	e := NewEnricher(provider, "test-model", profiles, confirmer, testLogger())

	e.Enrich(context.Background(), "user-1", "wa-1", "I like it mild", nil)

	profile, err := profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Contains(t, profile.Pending, "dietary.spice_level")
	require.Equal(t, "mild", profile.Pending["dietary.spice_level"].Value)
	require.NotContains(t, profile.Attributes, "dietary.spice_level")

	require.Len(t, confirmer.calls, 1)
	require.Equal(t, "wa-1", confirmer.calls[0].RecipientID)
	require.Equal(t, "dietary.spice_level", confirmer.calls[0].Key)
	require.Equal(t, "mild", confirmer.calls[0].Value)
}

func TestEnrich_HighConfidence_WritesAttributeDirectly(t *testing.T) {
	profiles := newFakeProfiles()
	confirmer := &fakeConfirmer{}
	provider := fakeLLM{content: `[{"key":"communication.language","value":"hindi","confidence":0.9}]`}
	e := NewEnricher(provider, "test-model", profiles, confirmer, testLogger())

	e.Enrich(context.Background(), "user-1", "wa-1", "please reply in Hindi", nil)

	profile, err := profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "hindi", profile.Attributes["communication.language"])
	require.Empty(t, confirmer.calls)
}

// TestApplyConfirmation_Affirmed covers the mandatory scenario: after a
// "haan" reply, spice_level=mild is stored at confidence 1.0 (i.e.
// promoted into Attributes and removed from Pending).
func TestApplyConfirmation_Affirmed(t *testing.T) {
	profiles := newFakeProfiles()
	require.NoError(t, profiles.Save(context.Background(), persistence.UserProfile{
		UserID:     "user-1",
		Attributes: map[string]interface{}{},
		Pending: map[string]persistence.PendingAttribute{
			"dietary.spice_level": {Value: "mild", Confidence: 0.75, AskedAt: "2026-07-30T00:00:00Z"},
		},
	}))
	e := NewEnricher(fakeLLM{}, "test-model", profiles, nil, testLogger())

	require.NoError(t, e.ApplyConfirmation(context.Background(), "user-1", "dietary.spice_level", true))

	profile, err := profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "mild", profile.Attributes["dietary.spice_level"])
	require.NotContains(t, profile.Pending, "dietary.spice_level")
}

func TestApplyConfirmation_Rejected_DiscardsPendingWithoutWritingAttribute(t *testing.T) {
	profiles := newFakeProfiles()
	require.NoError(t, profiles.Save(context.Background(), persistence.UserProfile{
		UserID:     "user-1",
		Attributes: map[string]interface{}{},
		Pending: map[string]persistence.PendingAttribute{
			"dietary.spice_level": {Value: "mild", Confidence: 0.75, AskedAt: "2026-07-30T00:00:00Z"},
		},
	}))
	e := NewEnricher(fakeLLM{}, "test-model", profiles, nil, testLogger())

	require.NoError(t, e.ApplyConfirmation(context.Background(), "user-1", "dietary.spice_level", false))

	profile, err := profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotContains(t, profile.Attributes, "dietary.spice_level")
	require.NotContains(t, profile.Pending, "dietary.spice_level")
}

func TestApplyConfirmation_UnknownKey_NoOp(t *testing.T) {
	profiles := newFakeProfiles()
	e := NewEnricher(fakeLLM{}, "test-model", profiles, nil, testLogger())

	require.NoError(t, e.ApplyConfirmation(context.Background(), "user-1", "dietary.spice_level", true))

	profile, err := profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, profile.Attributes)
}
