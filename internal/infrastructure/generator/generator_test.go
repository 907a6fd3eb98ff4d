package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
)

func testParticipant(name string) *participant.Participant {
	return &participant.Participant{ID: uuid.New(), Name: name, Role: "panelist"}
}

func TestScripted_CyclesLines(t *testing.T) {
	g := NewScripted([]string{"first", "second"})
	p := testParticipant("Ada")
	turn := participant.TurnContext{Topic: "testing"}

	utt, err := g.Generate(context.Background(), p, turn)
	require.NoError(t, err)
	assert.Equal(t, "[Ada] first", utt.Content)
	assert.Equal(t, "response", utt.MessageType)

	utt, err = g.Generate(context.Background(), p, turn)
	require.NoError(t, err)
	assert.Equal(t, "[Ada] second", utt.Content)

	utt, err = g.Generate(context.Background(), p, turn)
	require.NoError(t, err)
	assert.Equal(t, "[Ada] first", utt.Content)
}

func TestScripted_PerParticipantCursor(t *testing.T) {
	g := NewScripted([]string{"one", "two"})
	a, b := testParticipant("a"), testParticipant("b")

	utt, err := g.Generate(context.Background(), a, participant.TurnContext{})
	require.NoError(t, err)
	assert.Equal(t, "[a] one", utt.Content)

	utt, err = g.Generate(context.Background(), b, participant.TurnContext{})
	require.NoError(t, err)
	assert.Equal(t, "[b] one", utt.Content)
}

func TestScripted_HonorsCancelledContext(t *testing.T) {
	g := NewScripted(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, testParticipant("a"), participant.TurnContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChatClient_Generate(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "deepseek-chat",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "I propose we ship on Friday."}},
			},
			"usage": map[string]int{"total_tokens": 42},
		})
	}))
	defer srv.Close()

	client := NewChatClient(ChatConfig{BaseURL: srv.URL, APIKey: "test-key"}, zerolog.Nop())
	p := testParticipant("Ada")
	turn := participant.TurnContext{
		Topic: "release planning",
		Round: 1,
		History: []participant.HistoryEntry{
			{Speaker: "Bob", Content: "We are behind schedule."},
		},
	}

	utt, err := client.Generate(context.Background(), p, turn)

	require.NoError(t, err)
	assert.Equal(t, "I propose we ship on Friday.", utt.Content)
	assert.NotEmpty(t, utt.Metadata)

	require.GreaterOrEqual(t, len(captured.Messages), 3)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "Ada")
	assert.Contains(t, captured.Messages[0].Content, "release planning")
	assert.Contains(t, captured.Messages[1].Content, "Bob")
}

func TestChatClient_Errors(t *testing.T) {
	t.Run("http error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := NewChatClient(ChatConfig{BaseURL: srv.URL}, zerolog.Nop())
		_, err := client.Generate(context.Background(), testParticipant("a"), participant.TurnContext{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
		}))
		defer srv.Close()

		client := NewChatClient(ChatConfig{BaseURL: srv.URL}, zerolog.Nop())
		_, err := client.Generate(context.Background(), testParticipant("a"), participant.TurnContext{})
		assert.Error(t, err)
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		blocked := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-blocked
		}))
		defer srv.Close()
		defer close(blocked)

		client := NewChatClient(ChatConfig{BaseURL: srv.URL}, zerolog.Nop())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := client.Generate(ctx, testParticipant("a"), participant.TurnContext{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
