package chat

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// ClassificationResult is the output of one classification pass. It is
// produced fresh per request and never persisted directly.
type ClassificationResult struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Parameters map[string]string `json:"parameters"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Confidence ladder for a single pattern against the normalized text.
const (
	confidenceFull     = 1.0
	confidenceAnchored = 0.9
	confidenceContains = 0.7
	confidenceFallback = 0.1
)

// Classify maps raw text to an intent with a confidence score and extracted
// parameters. It is deterministic and never fails: text that matches nothing
// classifies as general with the fixed 0.1 floor.
func Classify(text string) ClassificationResult {
	normalized := strings.ToLower(strings.TrimSpace(text))

	best := IntentGeneral
	bestConfidence := 0.0
	for _, entry := range classifierTable {
		for _, pattern := range entry.Patterns {
			c := patternConfidence(pattern, normalized)
			if c > bestConfidence {
				bestConfidence = c
				best = entry.Intent
			}
		}
	}
	if bestConfidence == 0.0 {
		best = IntentGeneral
		bestConfidence = confidenceFallback
	}

	return ClassificationResult{
		Intent:     best,
		Confidence: round2(bestConfidence),
		Parameters: Extract(text, best),
		Timestamp:  time.Now().UTC(),
	}
}

func patternConfidence(pattern *regexp.Regexp, text string) float64 {
	loc := pattern.FindStringIndex(text)
	if loc == nil {
		return 0.0
	}
	if loc[0] == 0 && loc[1] == len(text) {
		return confidenceFull
	}
	if loc[0] == 0 {
		return confidenceAnchored
	}
	return confidenceContains
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
