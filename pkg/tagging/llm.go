package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const parsePrompt = `You extract topics from an app-store review.

Return the noun phrases (e.g. "the payout button", "daily rewards") and named entities (products, companies, places, people) that appear in the review text below. Copy each span exactly as it appears in the text. Do not invent spans.

Review:
%s

Respond with a JSON object: {"noun_chunks": ["..."], "entities": ["..."]}.
Return ONLY the JSON object, no other text.`

// LLMParser asks a chat model for noun phrases and entities.
type LLMParser struct {
	client   *http.Client
	provider string // "openai" or "anthropic"
	model    string
	apiKey   string
	baseURL  string
}

// NewLLMParser creates a parser for provider. An empty model picks the
// provider's small default.
func NewLLMParser(provider, model, apiKey, baseURL string) *LLMParser {
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-3-5-haiku-latest"
		default:
			model = "gpt-4o-mini"
		}
	}
	return &LLMParser{
		client:   &http.Client{Timeout: 30 * time.Second},
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
	}
}

func (p *LLMParser) Parse(ctx context.Context, text string) (*Parse, error) {
	prompt := fmt.Sprintf(parsePrompt, text)

	var (
		raw string
		err error
	)
	switch p.provider {
	case "anthropic":
		raw, err = p.callAnthropic(ctx, prompt)
	default:
		raw, err = p.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}

	var out Parse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse llm response: %w", err)
	}
	return &out, nil
}

// stripCodeFence removes a markdown code block wrapper if the model added one.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
		raw = raw[3+idx+1:]
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

func (p *LLMParser) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := p.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := p.post(ctx, baseURL+"/v1/chat/completions", headers, payload, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (p *LLMParser) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := p.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      p.model,
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
	if err := p.post(ctx, baseURL+"/v1/messages", headers, payload, &result); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

func (p *LLMParser) post(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("status %d: %v", resp.StatusCode, errResp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
