package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Ollama calls a local ollama daemon's /api/chat endpoint, non-streaming.
type Ollama struct {
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		BaseURL: baseURL,
		Model:   model,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *Ollama) Complete(ctx context.Context, turns []Turn) (string, error) {
	msgs := make([]ollamaMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, ollamaMessage{Role: t.Role, Content: t.Content})
	}
	body, err := json.Marshal(map[string]any{
		"model":    o.Model,
		"messages": msgs,
		"stream":   false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return "", upstreamErr("ollama", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", statusErr("ollama", resp)
	}

	var out struct {
		Message ollamaMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", upstreamErr("ollama", err)
	}
	return out.Message.Content, nil
}
