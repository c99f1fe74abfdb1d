package main

import (
	"strings"

	"github.com/quailyquaily/autopilot/llm"
	"github.com/quailyquaily/autopilot/providers/openai"
	"github.com/spf13/viper"
)

// llmClientFromViper returns nil when no provider is configured; the
// classifier then falls back to keyword heuristics and the compiler to its
// deterministic templates.
func llmClientFromViper() llm.Client {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider")))
	if provider == "" {
		return nil
	}
	endpoint := strings.TrimSpace(viper.GetString("llm.endpoint"))
	apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
	return openai.New(endpoint, apiKey)
}

func llmModelFromViper() string {
	return strings.TrimSpace(viper.GetString("llm.model"))
}
