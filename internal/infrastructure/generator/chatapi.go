// Package generator provides utterance generator implementations. The
// generator is the only blocking external call in the system; every
// implementation honors the ctx deadline handed down by the scheduler.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
)

// ChatClient calls an OpenAI-compatible chat-completions endpoint.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      zerolog.Logger
}

// ChatConfig configures the chat completion client.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

func NewChatClient(cfg ChatConfig, logger zerolog.Logger) *ChatClient {
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	return &ChatClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		// Per-call deadlines come from the scheduler's ctx; no client
		// timeout so the shorter of the two always wins.
		httpClient: &http.Client{},
		logger:     logger.With().Str("service", "generator").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate implements participant.Generator.
func (c *ChatClient) Generate(ctx context.Context, p *participant.Participant, turn participant.TurnContext) (*participant.Utterance, error) {
	messages := []chatMessage{{
		Role: "system",
		Content: fmt.Sprintf(
			"You are %s, participating in a discussion as %s. Topic: %s. Respond with one concise contribution to the discussion.",
			p.Name, p.Role, turn.Topic),
	}}
	for _, h := range turn.History {
		messages = append(messages, chatMessage{
			Role:    "user",
			Content: fmt.Sprintf("%s: %s", h.Speaker, h.Content),
		})
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: fmt.Sprintf("It is your turn to speak in round %d.", turn.Round+1),
	})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat api error %d: %s", resp.StatusCode, msg)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat api returned no choices")
	}

	metadata := struct {
		Model       string  `json:"model"`
		TotalTokens int     `json:"total_tokens"`
		LatencyMs   float64 `json:"latency_ms"`
	}{parsed.Model, parsed.Usage.TotalTokens, float64(time.Since(started).Milliseconds())}
	meta, _ := json.Marshal(metadata)

	c.logger.Debug().
		Str("participant", p.Name).
		Dur("latency", time.Since(started)).
		Msg("utterance generated")
	return &participant.Utterance{
		Content:     parsed.Choices[0].Message.Content,
		MessageType: "response",
		Metadata:    meta,
	}, nil
}
