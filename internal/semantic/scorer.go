package semantic

import (
	"context"
	"regexp"
	"strconv"
)

// Scorer produces free-text judgments from an LLM. Implementations are
// expected to be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, systemPrompt, prompt string) (string, error)
}

var scorePattern = regexp.MustCompile(`(?i)score\s*[:=]?\s*(\d+(?:\.\d+)?)`)

// ExtractScore parses a "Score: X" style reply. Models phrase replies
// inconsistently, so the parse is tolerant; anything unparseable scores 0,
// and parsed values are clamped to [0, max].
func ExtractScore(text string, max float64) float64 {
	match := scorePattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}

	if value < 0 {
		return 0
	}
	if value > max {
		return max
	}
	return value
}
