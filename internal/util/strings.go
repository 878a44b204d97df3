package util

import "strings"

// IsBlank tells whether s is unset or only whitespace.
func IsBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
