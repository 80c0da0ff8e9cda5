package confirmation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"flowline.dev/channel"
	"flowline.dev/common"
	"flowline.dev/log"
	"flowline.dev/session"
)

func testLogger() *log.Logger { return log.New(log.DefaultConfig(), "confirmation-test") }

func newTestSessions(t *testing.T) session.Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := session.NewRedisStore("redis://"+mr.Addr(), 0, testLogger())
	require.NoError(t, err)
	return store
}

func TestQueue_EnqueueDequeueRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewQueue(client, testLogger())

	sink := NewSink(q)
	require.NoError(t, sink.EnqueueConfirmation(context.Background(), "wa-1", "dietary.spice_level", "mild",
		`Quick check — did I get it right that your dietary spice_level is "mild"? (yes/no)`))

	got, err := q.Dequeue("confirmations", 0)
	require.NoError(t, err)
	job, ok := got.(Job)
	require.True(t, ok)
	require.Equal(t, "wa-1", job.RecipientID)
	require.Equal(t, "dietary.spice_level", job.Key)
	require.Equal(t, "mild", job.Value)
}

// TestProcessor_Process_StashesPendingConfirmationOnSession covers the
// other half of the ask: once a question is actually delivered, the
// recipient's session is marked so the next reply can be interpreted as
// the answer to this specific key.
func TestProcessor_Process_StashesPendingConfirmationOnSession(t *testing.T) {
	sender := channel.NewWebSender()
	registry := channel.NewRegistry(testLogger())
	registry.RegisterNormalizer(channel.WebNormalizer{})
	registry.RegisterSender(sender)
	dispatcher := channel.NewDispatcher(registry, testLogger())

	sessions := newTestSessions(t)
	_, _, err := sessions.EnsureCreated(context.Background(), "wa-1", common.PlatformWeb)
	require.NoError(t, err)

	proc := NewProcessor(dispatcher, sessions, testLogger())

	job := Job{
		ID:          "wa-1:dietary.spice_level",
		RecipientID: "wa-1",
		Platform:    string(common.PlatformWeb),
		Question:    `did I get it right that your spice_level is "mild"? (yes/no)`,
		Key:         "dietary.spice_level",
		Value:       "mild",
	}
	require.NoError(t, proc.Process(context.Background(), job))

	require.Len(t, sender.Sent, 1)
	require.Equal(t, job.Question, sender.Sent[0].Text)

	sess, found, err := sessions.Get(context.Background(), "wa-1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, sess.PendingConfirmation)
	require.Equal(t, "dietary.spice_level", sess.PendingConfirmation.Key)
	require.Equal(t, "mild", sess.PendingConfirmation.Value)
}

func TestProcessor_Process_WrongJobType(t *testing.T) {
	sender := channel.NewWebSender()
	registry := channel.NewRegistry(testLogger())
	registry.RegisterNormalizer(channel.WebNormalizer{})
	registry.RegisterSender(sender)
	dispatcher := channel.NewDispatcher(registry, testLogger())

	proc := NewProcessor(dispatcher, newTestSessions(t), testLogger())
	err := proc.Process(context.Background(), "not a job")
	require.Error(t, err)
}
