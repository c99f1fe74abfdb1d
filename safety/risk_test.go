package safety

import "testing"

func TestRiskOrdering(t *testing.T) {
	ordered := []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Fatalf("%s must rank below %s", ordered[i-1], ordered[i])
		}
	}
}

func TestUnknownRiskRanksCritical(t *testing.T) {
	if RiskLevel("galactic").Rank() != RiskCritical.Rank() {
		t.Fatal("unknown risk levels must rank as critical, not as nothing")
	}
}

func TestMaxRisk(t *testing.T) {
	cases := []struct {
		name   string
		levels []RiskLevel
		want   RiskLevel
	}{
		{"empty", nil, RiskNone},
		{"single", []RiskLevel{RiskMedium}, RiskMedium},
		{"max wins", []RiskLevel{RiskLow, RiskCritical, RiskMedium}, RiskCritical},
		{"all none", []RiskLevel{RiskNone, RiskNone}, RiskNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaxRisk(tc.levels...); got != tc.want {
				t.Fatalf("MaxRisk(%v) = %s, want %s", tc.levels, got, tc.want)
			}
		})
	}
}

func TestParseRiskLevel(t *testing.T) {
	if r, ok := ParseRiskLevel("  HIGH "); !ok || r != RiskHigh {
		t.Fatalf("ParseRiskLevel(HIGH) = %s, %v", r, ok)
	}
	if _, ok := ParseRiskLevel("galactic"); ok {
		t.Fatal("unknown level must not parse")
	}
}
