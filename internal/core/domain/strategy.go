package domain

import "fmt"

// Strategy selects the classification mode.
type Strategy string

const (
	StrategyRules Strategy = "rules"
	// StrategyHybrid is accepted at the boundary; scoring is identical to
	// rules until a second stage exists.
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy validates a submitted strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRules, StrategyHybrid:
		return Strategy(s), nil
	case "":
		return StrategyRules, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}
