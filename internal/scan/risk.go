package scan

import (
	"math"

	"github.com/sloppy/codeshield/internal/model"
)

const maxRiskScore = 10

var severityWeights = map[model.Severity]int{
	model.SeverityCritical: 10,
	model.SeverityHigh:     5,
	model.SeverityMedium:   2,
	model.SeverityLow:      1,
}

// RiskScore is min(10, round(weighted / max(1, filesScanned) * 10)).
func RiskScore(counts map[model.Severity]int, filesScanned int) int {
	raw := 0
	for sev, n := range counts {
		raw += severityWeights[sev] * n
	}
	if raw <= 0 {
		return 0
	}
	if filesScanned < 1 {
		filesScanned = 1
	}
	score := int(math.Round(float64(raw*10) / float64(filesScanned)))
	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}
