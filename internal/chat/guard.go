package chat

import (
	"fmt"
	"strings"
)

// Guard screens raw input before it reaches classification. Refused input
// never touches the database.
type Guard struct {
	MaxChars int
	Denied   []string
}

// Check returns a refusal reason for input that must not be processed, or
// "" when the input is acceptable.
func (g Guard) Check(text string) string {
	if g.MaxChars > 0 && len(text) > g.MaxChars {
		return "Input is too long"
	}
	lower := strings.ToLower(text)
	for _, pattern := range g.Denied {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return fmt.Sprintf("Potentially dangerous pattern detected: %s", pattern)
		}
	}
	return ""
}
