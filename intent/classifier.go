package intent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/autopilot/internal/jsonutil"
	"github.com/quailyquaily/autopilot/llm"
)

// Recorder persists classifications for later analytics and feedback. The
// classifier calls it fire-and-forget; a failing recorder never blocks a
// classification from returning.
type Recorder interface {
	Record(ctx context.Context, c Classification) error
}

type Classifier struct {
	Client  llm.Client
	Model   string
	Timeout time.Duration

	Recorder Recorder
	Log      *slog.Logger
}

func NewClassifier(client llm.Client, model string, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Classifier{
		Client:  client,
		Model:   strings.TrimSpace(model),
		Timeout: timeout,
	}
}

type llmClassification struct {
	Type       string            `json:"type"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

// Classify maps raw user text plus conversation context to a classification.
// It always succeeds: a model timeout, error, or unparseable response falls
// back to the keyword heuristic, and the worst case is unknown with low
// confidence. Callers always have a value to act on.
func (c *Classifier) Classify(ctx context.Context, text string, sessionCtx map[string]string) Classification {
	text = strings.TrimSpace(text)
	out := Classification{
		ID:        "int_" + randHex(8),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if text == "" {
		out.Type = TypeUnknown
		out.Confidence = 0
		c.record(out)
		return out
	}

	typ, conf, entities, ok := c.classifyWithModel(ctx, text, sessionCtx)
	if !ok {
		typ, conf = classifyHeuristic(text)
		entities = nil
	}
	out.Type = typ
	out.Confidence = clamp01(conf)
	out.Entities = entities

	c.record(out)
	return out
}

func (c *Classifier) classifyWithModel(ctx context.Context, text string, sessionCtx map[string]string) (Type, float64, map[string]string, bool) {
	if c == nil || c.Client == nil {
		return TypeUnknown, 0, nil, false
	}

	payload := map[string]any{
		"text":    text,
		"context": sessionCtx,
		"types": []string{
			string(TypeAppCreate), string(TypeTodo), string(TypeMonitor),
			string(TypeAction), string(TypeSchedule), string(TypeGoal),
			string(TypeTool), string(TypeQuery), string(TypeUnknown),
		},
		"rules": []string{
			"Classify the user's request into exactly one type.",
			"confidence: 0.0-1.0, how certain the classification is.",
			"entities: flat string map of extracted values (recipient, subject, time, condition).",
			"Prefer unknown with low confidence over guessing.",
		},
	}
	b, _ := json.Marshal(payload)
	sys := "You classify user intents for an automation engine. Return ONLY JSON with keys: " +
		"type (string), confidence (number), entities (object of strings)."

	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	res, err := c.Client.Chat(cctx, llm.Request{
		Model:     c.Model,
		ForceJSON: true,
		Messages: []llm.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: string(b)},
		},
		Parameters: map[string]any{
			"max_tokens":  300,
			"temperature": 0,
		},
	})
	if err != nil {
		c.logWarn("intent_classify_model_error", "error", err.Error())
		return TypeUnknown, 0, nil, false
	}

	var parsed llmClassification
	if err := jsonutil.DecodeWithFallback(res.Text, &parsed); err != nil {
		c.logWarn("intent_classify_parse_error", "error", err.Error())
		return TypeUnknown, 0, nil, false
	}

	typ := ParseType(parsed.Type)
	entities := make(map[string]string, len(parsed.Entities))
	for k, v := range parsed.Entities {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			entities[k] = v
		}
	}
	if len(entities) == 0 {
		entities = nil
	}
	return typ, parsed.Confidence, entities, true
}

func (c *Classifier) record(out Classification) {
	if c == nil || c.Recorder == nil {
		return
	}
	rec := c.Recorder
	log := c.Log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Record(ctx, out); err != nil {
			if log == nil {
				log = slog.Default()
			}
			log.Warn("intent_record_error", "classification_id", out.ID, "error", err.Error())
		}
	}()
}

func (c *Classifier) logWarn(msg string, args ...any) {
	log := slog.Default()
	if c != nil && c.Log != nil {
		log = c.Log
	}
	log.Warn(msg, args...)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 8
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
