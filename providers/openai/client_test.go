package openai

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/quailyquaily/autopilot/llm"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestClient_ResponseBodyTruncated(t *testing.T) {
	// Build a response body larger than the limit.
	const limit int64 = 256
	bigBody := strings.Repeat("x", int(limit)+100)

	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(bigBody)),
			Request:    r,
		}, nil
	})

	c := New("http://fake.test", "key")
	c.HTTP = &http.Client{Transport: rt}
	c.MaxResponseBytes = limit

	// Chat fails to unmarshal the truncated body; the key thing is that
	// io.ReadAll did not read past the limit and the failure is typed.
	_, err := c.Chat(context.Background(), llm.Request{
		Model:    "test",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for oversized non-JSON body, got nil")
	}
}

func TestClient_ChatParsesChoices(t *testing.T) {
	body := `{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`

	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("Authorization = %q", got)
		}
		return &http.Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})

	c := New("http://fake.test", "key")
	c.HTTP = &http.Client{Transport: rt}

	res, err := c.Chat(context.Background(), llm.Request{
		Model:    "test",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("Text = %q, want %q", res.Text, "hello")
	}
	if res.Usage.TotalTokens != 5 {
		t.Fatalf("TotalTokens = %d, want 5", res.Usage.TotalTokens)
	}
}

func TestClient_ChatAPIError(t *testing.T) {
	body := `{"error":{"message":"rate limited","type":"rate_limit_error"}}`

	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 429,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})

	c := New("http://fake.test", "key")
	c.HTTP = &http.Client{Transport: rt}

	_, err := c.Chat(context.Background(), llm.Request{Model: "test"})
	if err == nil {
		t.Fatal("expected error for API error payload, got nil")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error %q does not surface API message", err)
	}
}
