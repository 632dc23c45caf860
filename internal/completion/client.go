// Package completion calls an OpenAI-compatible chat-completions endpoint and
// turns the model's JSON answer into an IntentResult.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/observability"
)

const (
	DefaultIntent  = "UNKNOWN"
	DefaultEmotion = "neutral"

	maxGenerateTokens = 500
	maxErrorBody      = 512
)

var ErrUnknownDataset = errors.New("unknown dataset")

// IntentResult is the structured answer the model produces for one turn.
type IntentResult struct {
	Intent  string `json:"intent"`
	Emotion string `json:"emotion"`
	SQL     string `json:"sql"`
	Reply   string `json:"reply"`
}

// UpstreamError reports a transport failure or a non-2xx response. Body is
// truncated and has credentials masked.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat completion request failed: %v", e.Err)
	}
	return fmt.Sprintf("chat completion failed status=%d body=%s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports a response whose envelope or content could
// not be decoded into an IntentResult.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed chat completion: %s: %v", e.Reason, e.Err)
	}
	return "malformed chat completion: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// Referer and Title are sent to openrouter.ai only.
	Referer string
	Title   string
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	referer    string
	title      string
	openRouter bool
	client     *http.Client
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "openai/gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      model,
		referer:    strings.TrimSpace(cfg.Referer),
		title:      strings.TrimSpace(cfg.Title),
		openRouter: strings.Contains(strings.ToLower(parsed.Hostname()), "openrouter.ai"),
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Generate asks the model to classify message against the dataset's prompt.
func (c *Client) Generate(ctx context.Context, message string, datasetID dataset.ID) (IntentResult, error) {
	prompt := dataset.Prompt(datasetID)
	if prompt == dataset.UnknownPrompt {
		return IntentResult{}, fmt.Errorf("generate for %q: %w", datasetID, ErrUnknownDataset)
	}

	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: message},
		},
		Temperature: 0,
		MaxTokens:   maxGenerateTokens,
	})
	if err != nil {
		return IntentResult{}, err
	}
	return parseIntentResult(content)
}

// Ping sends a one-token completion without any dataset prompt.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.complete(ctx, chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: "ping"}},
		Temperature: 0,
		MaxTokens:   1,
	})
	var malformed *MalformedResponseError
	if err != nil && !errors.As(err, &malformed) {
		observability.IncrementCompletionPingFailure()
		return false
	}
	return true
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

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.openRouter {
		if c.referer != "" {
			httpReq.Header.Set("HTTP-Referer", c.referer)
		}
		if c.title != "" {
			httpReq.Header.Set("X-Title", c.title)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &UpstreamError{Err: maskedError{msg: c.mask(err.Error()), cause: unwrapContextErr(err)}}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Err: maskedError{msg: c.mask("read chat response body: " + err.Error())}}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: c.mask(truncate(string(rawRespBody), maxErrorBody))}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", &MalformedResponseError{Reason: "decode response envelope", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &MalformedResponseError{Reason: "no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) mask(s string) string {
	return observability.Mask(s, c.apiKey)
}

// parseIntentResult decodes the model content, tolerating markdown fences and
// prose around a single JSON object.
func parseIntentResult(content string) (IntentResult, error) {
	cleaned := stripCodeFences(content)
	if cleaned == "" {
		return IntentResult{}, &MalformedResponseError{Reason: "empty content"}
	}

	result, err := decodeIntentResult(cleaned)
	if err != nil {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return IntentResult{}, &MalformedResponseError{Reason: "content is not a JSON object", Err: err}
		}
		result, err = decodeIntentResult(cleaned[start : end+1])
		if err != nil {
			return IntentResult{}, &MalformedResponseError{Reason: "content is not a JSON object", Err: err}
		}
	}

	if strings.TrimSpace(result.Intent) == "" {
		result.Intent = DefaultIntent
	}
	if strings.TrimSpace(result.Emotion) == "" {
		result.Emotion = DefaultEmotion
	}
	return result, nil
}

func decodeIntentResult(raw string) (IntentResult, error) {
	var result IntentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return IntentResult{}, err
	}
	return result, nil
}

func stripCodeFences(value string) string {
	value = strings.ReplaceAll(value, "```json", "")
	value = strings.ReplaceAll(value, "```JSON", "")
	value = strings.ReplaceAll(value, "```", "")
	return strings.TrimSpace(value)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "...(truncated)"
}

// maskedError carries an already-masked message while keeping context
// cancellation visible to errors.Is.
type maskedError struct {
	msg   string
	cause error
}

func (e maskedError) Error() string { return e.msg }

func (e maskedError) Unwrap() error { return e.cause }

func unwrapContextErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	default:
		return nil
	}
}
