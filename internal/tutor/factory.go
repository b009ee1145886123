package tutor

import (
	"fmt"

	"github.com/edgelearn/lti-tutor/internal/config"
)

// NewProvider builds the configured model backend.
func NewProvider(cfg config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY required for provider gemini")
		}
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel), nil
	case "ollama":
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY required for provider openai")
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
