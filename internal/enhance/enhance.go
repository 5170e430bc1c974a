// Package enhance rewrites fetched articles through a language model.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ai-novine/portal/internal/model"
)

// Enhancer produces an enhanced (translated/edited) body for an article.
// Implementations must be safe for concurrent use.
type Enhancer interface {
	Enhance(ctx context.Context, article model.Article) (model.Article, error)
}

type noop struct{}

func (noop) Enhance(_ context.Context, article model.Article) (model.Article, error) {
	return article, nil
}

// None returns an Enhancer that passes articles through unchanged. Used
// when no API key is configured.
func None() Enhancer { return noop{} }

// Provider calls an OpenAI-compatible chat completions endpoint.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// New creates a Provider. An empty baseURL targets the OpenAI API.
func New(apiKey, modelName, baseURL string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("enhancer not configured: missing API key")
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Provider{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Enhance fills the article's EnhancedBody with a Croatian rendition of its
// body. The original body is never modified.
func (p *Provider) Enhance(ctx context.Context, article model.Article) (model.Article, error) {
	prompt := fmt.Sprintf("Prevedi na hrvatski i uredi za portal:\n\n%s\n\n%s", article.Title, article.Body)
	reqBody, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return article, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return article, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return article, fmt.Errorf("enhance request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return article, fmt.Errorf("enhance request: status %d: %s", resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return article, fmt.Errorf("enhance response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return article, fmt.Errorf("enhance response: no choices")
	}

	article.EnhancedBody = strings.TrimSpace(parsed.Choices[0].Message.Content)
	return article, nil
}
