package intent

import "strings"

// heuristicRule maps trigger phrases to a type with a fixed confidence.
// Rules are evaluated in order; the first hit wins, which keeps the fallback
// deterministic for a given text.
type heuristicRule struct {
	typ        Type
	confidence float64
	phrases    []string
}

var heuristicRules = []heuristicRule{
	{TypeAppCreate, 0.75, []string{"create app", "build app", "make app", "crm", "management system", "inventory", "booking"}},
	{TypeTodo, 0.70, []string{"remind", "call ", "tomorrow", "don't forget"}},
	{TypeMonitor, 0.70, []string{"alert when", "notify if", "watch for", "monitor"}},
	{TypeAction, 0.65, []string{"send email", "send a report", "send report", "delete all", "update all", "export"}},
	{TypeSchedule, 0.70, []string{"every day", "daily", "weekly", "at 9", "at 8"}},
	{TypeGoal, 0.60, []string{"increase", "improve", "achieve", "grow by"}},
	{TypeTool, 0.70, []string{"when i say", "create command", "shortcut"}},
	{TypeQuery, 0.60, []string{"what is", "how many", "show me", "list my"}},
}

const unknownConfidence = 0.30

// classifyHeuristic is the no-model fallback. It always produces a result so
// classification can never hard-fail.
func classifyHeuristic(text string) (Type, float64) {
	lower := strings.ToLower(text)
	for _, rule := range heuristicRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				return rule.typ, rule.confidence
			}
		}
	}
	return TypeUnknown, unknownConfidence
}
