// ABOUTME: Tests for result delivery routing behind the agent method
// ABOUTME: Covers explicit targets, "last" fallback, and the opt-out

package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/store"
)

func echoResult(text string) *executor.Result {
	return &executor.Result{Payloads: []executor.Payload{{Text: text}}}
}

func TestDeliverResult_ExplicitProvider(t *testing.T) {
	g := newTestGateway(t, &fakeExecutor{})
	key := "webchat:session-1"

	record, ok := g.deliverResult(context.Background(), sendParams{
		SessionKey: key,
		Provider:   "whatsapp",
		To:         "+15550001111",
	}, store.SessionEntry{}, echoResult("hi there"))

	require.True(t, ok)
	assert.Equal(t, "whatsapp", record["provider"])
	assert.Equal(t, "+15550001111", record["to"])
	assert.NotEmpty(t, record["messageId"])

	// Successful delivery records the channel for later "last" sends.
	entry, err := g.sessions.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", entry.LastProvider)
	assert.Equal(t, "+15550001111", entry.LastTo)
}

func TestDeliverResult_LastReusesRecordedChannel(t *testing.T) {
	g := newTestGateway(t, &fakeExecutor{})

	record, ok := g.deliverResult(context.Background(), sendParams{
		SessionKey: "webchat:session-2",
		Provider:   "last",
	}, store.SessionEntry{
		LastProvider: "whatsapp",
		LastTo:       "+15550001111",
	}, echoResult("hi"))

	require.True(t, ok)
	assert.Equal(t, "whatsapp", record["provider"])
	assert.Equal(t, "+15550001111", record["to"])
}

func TestDeliverResult_LastFallsBackFromWebchat(t *testing.T) {
	g := newTestGateway(t, &fakeExecutor{})

	// webchat is not an outbound channel, so "last" falls back to the
	// default provider and the first allow-listed address.
	record, ok := g.deliverResult(context.Background(), sendParams{
		SessionKey: "webchat:session-3",
		Provider:   "last",
	}, store.SessionEntry{
		LastProvider: "webchat",
		LastTo:       "session-3",
	}, echoResult("hi"))

	require.True(t, ok)
	assert.Equal(t, "whatsapp", record["provider"])
	assert.Equal(t, "+15550001111", record["to"])
}

func TestDeliverResult_LastRejectsUnlistedAddress(t *testing.T) {
	g := newTestGateway(t, &fakeExecutor{})

	record, ok := g.deliverResult(context.Background(), sendParams{
		SessionKey: "webchat:session-4",
		Provider:   "last",
	}, store.SessionEntry{
		LastProvider: "whatsapp",
		LastTo:       "+19998887777",
	}, echoResult("hi"))

	require.True(t, ok)
	assert.Equal(t, "+15550001111", record["to"])
}

func TestDeliverResult_Skipped(t *testing.T) {
	g := newTestGateway(t, &fakeExecutor{})
	no := false

	t.Run("deliver false", func(t *testing.T) {
		_, ok := g.deliverResult(context.Background(), sendParams{
			Provider: "whatsapp", To: "+15550001111", Deliver: &no,
		}, store.SessionEntry{}, echoResult("hi"))
		assert.False(t, ok)
	})

	t.Run("no provider requested", func(t *testing.T) {
		_, ok := g.deliverResult(context.Background(), sendParams{}, store.SessionEntry{}, echoResult("hi"))
		assert.False(t, ok)
	})

	t.Run("nothing to deliver", func(t *testing.T) {
		_, ok := g.deliverResult(context.Background(), sendParams{
			Provider: "whatsapp", To: "+15550001111",
		}, store.SessionEntry{}, &executor.Result{})
		assert.False(t, ok)
	})
}

func TestDeliverResult_UnknownProviderReportsError(t *testing.T) {
	g := newTestGateway(t, &fakeExecutor{})

	record, ok := g.deliverResult(context.Background(), sendParams{
		SessionKey: "webchat:session-5",
		Provider:   "carrier-pigeon",
		To:         "rooftop",
	}, store.SessionEntry{}, echoResult("hi"))

	// Delivery failure is reported in the record, not as a run failure.
	require.True(t, ok)
	assert.Contains(t, record["error"], "carrier-pigeon")
}
