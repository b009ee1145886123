package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// OpenAI calls the chat completions API. BaseURL is configurable so any
// OpenAI-compatible server works.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	return &OpenAI{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   model,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAI) Complete(ctx context.Context, turns []Turn) (string, error) {
	msgs := make([]openaiMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, openaiMessage{Role: t.Role, Content: t.Content})
	}
	body, err := json.Marshal(map[string]any{
		"model":    o.Model,
		"messages": msgs,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return "", upstreamErr("openai", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", statusErr("openai", resp)
	}

	var out struct {
		Choices []struct {
			Message openaiMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", upstreamErr("openai", err)
	}
	if len(out.Choices) == 0 {
		return "", upstreamErr("openai", errors.New("no choices"))
	}
	return out.Choices[0].Message.Content, nil
}
