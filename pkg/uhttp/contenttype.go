package uhttp

import "strings"

func IsJSONContentType(contentType string) bool {
	// there are some janky APIs out there
	normalized := strings.TrimSpace(strings.ToLower(contentType))

	if !strings.HasPrefix(normalized, "application") {
		return false
	}

	if !strings.Contains(normalized, "json") {
		return false
	}

	return true
}
