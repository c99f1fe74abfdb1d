package plan

import (
	"strings"

	"github.com/quailyquaily/autopilot/intent"
	"gopkg.in/yaml.v3"
)

// manifest is the persisted description written by the template
// decompositions (monitors, schedules, commands, app scaffolds). A struct is
// used rather than a map so the YAML field order is stable and compilation
// stays deterministic.
type manifest struct {
	Kind       string            `yaml:"kind"`
	IntentType string            `yaml:"intent_type"`
	Text       string            `yaml:"text"`
	Entities   map[string]string `yaml:"entities,omitempty"`
}

func manifestYAML(kind string, cls intent.Classification) string {
	m := manifest{
		Kind:       strings.TrimSuffix(kind, "s"),
		IntentType: string(cls.Type),
		Text:       strings.TrimSpace(cls.Text),
		Entities:   cls.Entities,
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		return "kind: " + m.Kind + "\n"
	}
	return string(b)
}
