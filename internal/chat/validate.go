package chat

import "strings"

// ValidationResult reports whether extracted parameters are complete enough
// for their tool, along with human-readable errors and the corrected
// parameter set. Corrected is always populated, valid or not.
type ValidationResult struct {
	Valid     bool
	Errors    []string
	Corrected map[string]string
}

// Validate checks the parameters an intent needs before its tool may run.
// It is idempotent: validating Corrected again yields the same result.
func Validate(intent Intent, params map[string]string) ValidationResult {
	corrected := make(map[string]string, len(params))
	for k, v := range params {
		corrected[k] = v
	}
	var errs []string

	switch intent {
	case IntentCreateTask:
		if strings.TrimSpace(corrected["title"]) == "" {
			errs = append(errs, "Task title is required")
		}
		// Best-effort correction, applied whether or not the title passed.
		if strings.TrimSpace(corrected["description"]) == "" {
			corrected["description"] = corrected["title"]
		}
	case IntentUpdateTask:
		if strings.TrimSpace(corrected["target"]) == "" {
			errs = append(errs, "Target for update is required")
		}
	case IntentDeleteTask:
		if strings.TrimSpace(corrected["target"]) == "" {
			errs = append(errs, "Target for deletion is required")
		}
	}

	return ValidationResult{
		Valid:     len(errs) == 0,
		Errors:    errs,
		Corrected: corrected,
	}
}
