// Package security scrubs credential-shaped substrings out of free text an
// agent reports back to the broker before it is persisted to durable,
// admin-queryable state: work-order result messages, diagnostic log tails,
// and agent-relayed webhook response bodies all originate inside a
// cluster the broker doesn't control, and a pod log or error body can
// easily echo back a bearer token, a service-account JWT, or a secret env
// var. None of that belongs in the audit trail.
package security

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// sensitivePatterns mirrors the credential shapes most likely to turn up
// in Kubernetes pod logs and HTTP error bodies.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9\-_.~+/]+=*`),
	regexp.MustCompile(`(?i)(authorization:\s*)(bearer\s+)?[a-zA-Z0-9\-_.~+/]+=*`),
	regexp.MustCompile(`(?i)(token["\s:=]+)[a-zA-Z0-9+/]{40,}=*`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)[a-zA-Z0-9\-_.]{20,}`),
	regexp.MustCompile(`(?i)(password["\s:=]+)\S+`),
	regexp.MustCompile(`(?s)-----BEGIN[A-Z ]*PRIVATE KEY-----.*?-----END[A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(client-(?:certificate|key)-data:\s*)[a-zA-Z0-9+/=\n]{40,}`),
}

// Sanitize replaces every credential-shaped match in text with
// [REDACTED], preserving the matched prefix label (e.g. "token: ") where
// the pattern captures one, for readability.
func Sanitize(text string) string {
	result := text
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			loc := pattern.FindStringSubmatchIndex(match)
			if len(loc) >= 4 && loc[2] >= 0 {
				prefix := match[loc[2]:loc[3]]
				return prefix + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}
