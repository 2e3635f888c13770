package brain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Settings selects and configures one provider.
type Settings struct {
	Provider string // "claude", "openai", "ollama"
	APIKey   string
	Model    string
	Endpoint string // optional override
}

// Provider configurations

func ClaudeConfig(s Settings) *ProviderConfig {
	return &ProviderConfig{
		Name:       "claude",
		Endpoint:   orDefault(s.Endpoint, "https://api.anthropic.com/v1/messages"),
		APIKey:     s.APIKey,
		Model:      orDefault(s.Model, "claude-sonnet-4-5-20250929"),
		AuthHeader: "x-api-key",
		AuthPrefix: "",
		ExtraHeaders: map[string]string{
			"anthropic-version": "2023-06-01",
		},
		BuildBody:     buildClaudeBody,
		ParseResponse: parseClaudeResponse,
	}
}

func OpenAIConfig(s Settings) *ProviderConfig {
	return &ProviderConfig{
		Name:          "openai",
		Endpoint:      orDefault(s.Endpoint, "https://api.openai.com/v1/chat/completions"),
		APIKey:        s.APIKey,
		Model:         orDefault(s.Model, "gpt-4o"),
		AuthHeader:    "Authorization",
		AuthPrefix:    "Bearer ",
		BuildBody:     buildOpenAIBody,
		ParseResponse: parseOpenAIResponse,
	}
}

func OllamaConfig(s Settings) *ProviderConfig {
	endpoint := strings.TrimRight(orDefault(s.Endpoint, "http://localhost:11434"), "/")
	return &ProviderConfig{
		Name:          "ollama",
		Endpoint:      endpoint + "/api/chat",
		Model:         s.Model,
		NoAuth:        true,
		BuildBody:     buildOllamaBody,
		ParseResponse: parseOllamaResponse,
	}
}

// NewProvider creates the provider named in s.
func NewProvider(s Settings) (*HTTPProvider, error) {
	var cfg *ProviderConfig
	switch strings.ToLower(s.Provider) {
	case "claude", "anthropic", "":
		cfg = ClaudeConfig(s)
	case "openai":
		cfg = OpenAIConfig(s)
	case "ollama":
		cfg = OllamaConfig(s)
	default:
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
	return NewHTTPProvider(cfg), nil
}

// Body builders

func chatMessages(req Request) []map[string]string {
	messages := make([]map[string]string, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	return append(messages, map[string]string{"role": "user", "content": req.UserPrompt})
}

func buildClaudeBody(cfg *ProviderConfig, req Request) map[string]any {
	body := map[string]any{
		"model":      cfg.Model,
		"max_tokens": maxTokensOr(req.MaxTokens, 2048),
		"messages":   chatMessages(req),
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}
	return body
}

func buildOpenAIBody(cfg *ProviderConfig, req Request) map[string]any {
	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, chatMessages(req)...)

	return map[string]any{
		"model":                 cfg.Model,
		"max_completion_tokens": maxTokensOr(req.MaxTokens, 2048),
		"messages":              messages,
	}
}

func buildOllamaBody(cfg *ProviderConfig, req Request) map[string]any {
	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, chatMessages(req)...)
	return map[string]any{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	}
}

// Response parsers

func parseClaudeResponse(body []byte) (string, string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", err
	}
	var texts []string
	for _, c := range resp.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n\n"), resp.Model, nil
}

func parseOpenAIResponse(body []byte) (string, string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", err
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, resp.Model, nil
	}
	return "", resp.Model, nil
}

func parseOllamaResponse(body []byte) (string, string, error) {
	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", err
	}
	return resp.Message.Content, resp.Model, nil
}

// Helpers

func orDefault(v, defaultVal string) string {
	if v != "" {
		return v
	}
	return defaultVal
}

func maxTokensOr(v, defaultVal int) int {
	if v > 0 {
		return v
	}
	return defaultVal
}
