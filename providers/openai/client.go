package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/llm"
)

const defaultMaxResponseBytes int64 = 4 * 1024 * 1024

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	Endpoint string
	APIKey   string

	HTTP             *http.Client
	MaxResponseBytes int64
}

func New(endpoint, apiKey string) *Client {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &Client{
		Endpoint:         endpoint,
		APIKey:           strings.TrimSpace(apiKey),
		HTTP:             &http.Client{Timeout: 60 * time.Second},
		MaxResponseBytes: defaultMaxResponseBytes,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      *int          `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	if c == nil {
		return llm.Result{}, fmt.Errorf("nil openai client")
	}
	start := time.Now()

	body := chatRequest{Model: strings.TrimSpace(req.Model)}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.ForceJSON {
		body.ResponseFormat = &respFormat{Type: "json_object"}
	}
	if v, ok := req.Parameters["temperature"]; ok {
		if f, ok := toFloat(v); ok {
			body.Temperature = &f
		}
	}
	if v, ok := req.Parameters["max_tokens"]; ok {
		if f, ok := toFloat(v); ok {
			n := int(f)
			body.MaxTokens = &n
		}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return llm.Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return llm.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return llm.Result{}, err
	}
	defer resp.Body.Close()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = defaultMaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return llm.Result{}, err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return llm.Result{}, fmt.Errorf("invalid chat response: %w", err)
	}
	if out.Error != nil {
		return llm.Result{}, fmt.Errorf("chat error (%s): %s", out.Error.Type, out.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Result{}, fmt.Errorf("chat http status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("chat response has no choices")
	}

	return llm.Result{
		Text: out.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
