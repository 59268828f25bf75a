package api

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// checkRequired returns a 400 body when any named field is missing or
// holds a blank string, nil otherwise.
func checkRequired(data map[string]any, fields ...string) map[string]any {
	for _, field := range fields {
		value, ok := data[field]
		if !ok || value == nil {
			return map[string]any{"error": field + " is required", "field": field}
		}
		if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" {
			return map[string]any{"error": field + " cannot be empty", "field": field}
		}
	}
	return nil
}

func checkEmail(email string) map[string]any {
	if !emailPattern.MatchString(email) {
		return map[string]any{
			"error": "Invalid email format",
			"field": "email",
			"value": email,
		}
	}
	return nil
}

func checkStatus(status string) map[string]any {
	if errBody := checkAllowedValue(status, "status", "ACTIVE", "INACTIVE"); errBody != nil {
		return map[string]any{
			"error": "Status must be ACTIVE or INACTIVE",
			"field": "status",
			"value": status,
		}
	}
	return nil
}

// checkAllowedValue matches case-insensitively against the allowed set.
func checkAllowedValue(value, field string, allowed ...string) map[string]any {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return map[string]any{
		"error": field + " must be one of: " + strings.Join(allowed, ", "),
		"field": field,
		"value": value,
	}
}

// checkLength bounds the trimmed length of an optional value. Blank
// input passes; absence is checkRequired's concern.
func checkLength(value, field string, minLen, maxLen int) map[string]any {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	if n == 0 {
		return nil
	}
	if n < minLen {
		return map[string]any{
			"error": fmt.Sprintf("%s must be at least %d characters", field, minLen),
			"field": field,
		}
	}
	if n > maxLen {
		return map[string]any{
			"error": fmt.Sprintf("%s must not exceed %d characters", field, maxLen),
			"field": field,
		}
	}
	return nil
}
