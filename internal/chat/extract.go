package chat

import (
	"regexp"
	"strings"
)

// Extraction tables. Ordered: the first matching pattern wins.

var createPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)create task to\s*(.*)$`),
	regexp.MustCompile(`(?i)create.*task.*to\s*(.*)$`),
	regexp.MustCompile(`(?i)need to\s+(.+)$`),
	regexp.MustCompile(`(?i)want to\s+(.+)$`),
	regexp.MustCompile(`(?i)add task to\s*(.*)$`),
}

// createVerbs is the fallback scan order when no create pattern matched.
var createVerbs = []string{"need to", "want to", "please", "create", "make", "add"}

var updatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)update\s+.*task\s+['"]?(.+?)['"]?\s+(?:to|with|as)\s+['"]?(.+?)['"]?\s*\.?\s*$`),
	regexp.MustCompile(`(?i)change\s+.*task\s+['"]?(.+?)['"]?\s+(?:to|with|as)\s+['"]?(.+?)['"]?\s*\.?\s*$`),
	regexp.MustCompile(`(?i)mark\s+['"]?(.+?)['"]?\s+as\s+['"]?(.+?)['"]?\s*\.?\s*$`),
	regexp.MustCompile(`(?i)set\s+['"]?(.+?)['"]?\s+to\s+['"]?(.+?)['"]?\s*\.?\s*$`),
}

var deletePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)delete\s+(?:the\s+)?(?:task\s+)?['"]?(.+?)['"]?\s*\.?\s*$`),
	regexp.MustCompile(`(?i)remove\s+(?:the\s+)?(?:task\s+)?['"]?(.+?)['"]?\s*\.?\s*$`),
	regexp.MustCompile(`(?i)cancel\s+(?:the\s+)?(?:task\s+)?['"]?(.+?)['"]?\s*\.?\s*$`),
}

// Extract pulls intent-specific parameters out of raw text. Pure text
// processing: no I/O, deterministic, never fails. The untrimmed input is
// always attached as original_text.
func Extract(text string, intent Intent) map[string]string {
	params := map[string]string{}

	switch intent {
	case IntentCreateTask:
		extractCreate(text, params)
	case IntentUpdateTask:
		for _, pattern := range updatePatterns {
			if m := pattern.FindStringSubmatch(text); m != nil {
				params["target"] = strings.TrimSpace(m[1])
				params["value"] = strings.TrimSpace(m[2])
				break
			}
		}
	case IntentDeleteTask:
		for _, pattern := range deletePatterns {
			if m := pattern.FindStringSubmatch(text); m != nil {
				params["target"] = strings.TrimSpace(m[1])
				break
			}
		}
	}

	params["original_text"] = strings.TrimSpace(text)
	return params
}

func extractCreate(text string, params map[string]string) {
	for _, pattern := range createPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		span := strings.TrimSpace(m[1])
		title, description := splitTitle(span)
		params["title"] = title
		params["description"] = description
		return
	}

	// No pattern matched: take the remainder after the first trigger verb.
	lower := strings.ToLower(text)
	for _, verb := range createVerbs {
		idx := strings.Index(lower, verb)
		if idx < 0 {
			continue
		}
		extracted := strings.TrimSpace(text[idx+len(verb):])
		if extracted != "" {
			params["title"] = strings.TrimSpace(strings.SplitN(extracted, ".", 2)[0])
			params["description"] = extracted
		}
		return
	}
}

// splitTitle splits a captured span on the first period: the part before is
// the title, the part after the description. Without a period the whole span
// doubles as the description.
func splitTitle(span string) (title, description string) {
	parts := strings.SplitN(span, ".", 2)
	title = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		description = strings.TrimSpace(parts[1])
	} else {
		description = span
	}
	return title, description
}
