// Package jsonutil recovers structured JSON from model output. Responses
// arrive wrapped in prose, code fences, or with minor syntax damage even
// when the request forces JSON mode, so decoding tries progressively more
// aggressive repairs before giving up.
package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/quailyquaily/uniai"
)

var ErrNoJSONPayload = errors.New("no decodable json payload")

// DecodeWithFallback extracts the first decodable JSON payload from text and
// unmarshals it into dst. Candidates are tried in order of least to most
// repair so an already-valid response decodes untouched.
func DecodeWithFallback(text string, dst any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoJSONPayload
	}
	for _, candidate := range payloadCandidates(text) {
		if json.Valid([]byte(candidate)) {
			return json.Unmarshal([]byte(candidate), dst)
		}
	}
	return ErrNoJSONPayload
}

// payloadCandidates expands the raw text into deduplicated decode attempts:
// the text itself, snippets uniai locates inside it, and repaired variants
// of each.
func payloadCandidates(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	snippets := []string{raw}
	if found, err := uniai.CollectJSONCandidates(raw); err == nil {
		snippets = append(snippets, found...)
	}
	snippets = append(snippets, uniai.FindJSONSnippets(raw)...)

	for _, snip := range snippets {
		add(snip)
		stripped := uniai.StripNonJSONLines(snip)
		add(stripped)
		add(uniai.AttemptJSONRepair(snip))
		if strings.TrimSpace(stripped) != strings.TrimSpace(snip) {
			add(uniai.AttemptJSONRepair(stripped))
		}
	}
	return out
}
