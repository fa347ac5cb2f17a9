package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	chatStrategy = "llm"

	systemPrompt = "You are a loan-risk classifier. " +
		"Return only one word: 'RISKY' if the purpose suggests gambling, crypto speculation, " +
		"scam, or other financial risk. Otherwise, return 'SAFE'."
	userPromptFormat = "Classify this loan purpose as RISKY or SAFE:\n%s"

	defaultMaxTokens = 1000
	bodyPreviewLimit = 512
)

// ChatClassifier classifies text through an OpenAI-compatible chat-completions endpoint
// (OpenRouter by default).
type ChatClassifier struct {
	BaseURL    string
	APIKey     string
	Model      string
	Title      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify returns true when the model's answer contains "risky".
// Every failure mode (missing key, transport, timeout, non-2xx, malformed body)
// is returned as a *ClassificationError.
func (c *ChatClassifier) Classify(ctx context.Context, text string) (bool, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return false, c.fail(0, errors.New("api key not configured"))
	}
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(chatCompletionRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptFormat, text)},
		},
		Temperature: 0,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return false, c.fail(0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return false, c.fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if c.Title != "" {
		req.Header.Set("X-Title", c.Title)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, c.fail(0, err)
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, c.fail(resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, c.fail(resp.StatusCode, fmt.Errorf("unexpected status: %s", preview(body)))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return false, c.fail(resp.StatusCode, fmt.Errorf("decode chat completion: %w (body=%s)", err, preview(body)))
	}
	if len(completion.Choices) == 0 {
		return false, c.fail(resp.StatusCode, fmt.Errorf("chat completion returned no choices (body=%s)", preview(body)))
	}

	answer := strings.ToLower(strings.TrimSpace(completion.Choices[0].Message.Content))
	if answer == "" {
		return false, c.fail(resp.StatusCode, errors.New("chat completion returned empty message"))
	}
	return strings.Contains(answer, "risky"), nil
}

func (c *ChatClassifier) fail(status int, err error) error {
	return &ClassificationError{Strategy: chatStrategy, StatusCode: status, Err: err}
}

func preview(body []byte) string {
	runes := []rune(string(body))
	if len(runes) <= bodyPreviewLimit {
		return string(runes)
	}
	return string(runes[:bodyPreviewLimit]) + "…"
}
