package eventbus

import "strings"

// Matches implements spec.md §4.5 step 1's pattern grammar against a
// subscription's configured event_types list: exact match, prefix wildcard
// ("health.*" matches "health.degraded" but not "healthy"), and full
// wildcard ("*").
func Matches(subscribed []string, eventType Type) bool {
	for _, pattern := range subscribed {
		if patternMatches(pattern, string(eventType)) {
			return true
		}
	}
	return false
}

func patternMatches(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}
