package safety

import "strings"

// RiskLevel is a totally ordered severity classification.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

func (r RiskLevel) Known() bool {
	_, ok := riskRank[r]
	return ok
}

// Rank returns the position of r in the total order none < low < medium <
// high < critical. Unknown levels rank as critical so a corrupted value can
// never loosen a gate.
func (r RiskLevel) Rank() int {
	if n, ok := riskRank[r]; ok {
		return n
	}
	return riskRank[RiskCritical]
}

func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

func MaxRisk(levels ...RiskLevel) RiskLevel {
	out := RiskNone
	for _, l := range levels {
		if l.Rank() > out.Rank() {
			out = l
		}
	}
	return out
}

func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if r.Known() {
		return r, true
	}
	return RiskNone, false
}
