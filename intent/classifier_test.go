package intent

import (
	"context"
	"testing"
	"time"
)

type chanRecorder struct {
	ch chan Classification
}

func (r *chanRecorder) Record(ctx context.Context, c Classification) error {
	r.ch <- c
	return nil
}

func TestClassifyWithoutClientFallsBackToHeuristic(t *testing.T) {
	c := NewClassifier(nil, "", 0)
	out := c.Classify(context.Background(), "remind me to call the dentist tomorrow", nil)

	if out.Type != TypeTodo {
		t.Fatalf("type = %s, want %s", out.Type, TypeTodo)
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		t.Fatalf("confidence = %v, want in (0, 1]", out.Confidence)
	}
	if out.ID == "" || out.Text == "" || out.CreatedAt.IsZero() {
		t.Fatalf("incomplete classification: %+v", out)
	}
}

func TestClassifyEmptyTextIsUnknown(t *testing.T) {
	c := NewClassifier(nil, "", 0)
	out := c.Classify(context.Background(), "   ", nil)

	if out.Type != TypeUnknown {
		t.Fatalf("type = %s, want %s", out.Type, TypeUnknown)
	}
	if out.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", out.Confidence)
	}
	if out.Text != "" {
		t.Fatalf("text = %q, want trimmed empty", out.Text)
	}
}

func TestClassifyRecordsResult(t *testing.T) {
	rec := &chanRecorder{ch: make(chan Classification, 1)}
	c := NewClassifier(nil, "", 0)
	c.Recorder = rec

	out := c.Classify(context.Background(), "show me open tickets", nil)

	select {
	case recorded := <-rec.ch:
		if recorded.ID != out.ID || recorded.Type != out.Type {
			t.Fatalf("recorded = %+v, returned = %+v", recorded, out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("classification was never recorded")
	}
}

func TestWithFeedbackDoesNotMutateOriginal(t *testing.T) {
	orig := Classification{ID: "int_1", Type: TypeQuery, Confidence: 0.6}
	got := orig.WithFeedback("  actually an action  ")

	if got.Feedback != "actually an action" {
		t.Fatalf("feedback = %q", got.Feedback)
	}
	if orig.Feedback != "" {
		t.Fatal("original classification was mutated")
	}
	if got.Type != orig.Type || got.Confidence != orig.Confidence {
		t.Fatal("feedback copy changed classification fields")
	}
}
