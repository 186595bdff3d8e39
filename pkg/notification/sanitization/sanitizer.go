// Package sanitization strips secrets out of notification payloads before
// they leave the cluster. It favors losing formatting over losing an alert:
// if the primary regex pass fails for any reason, SanitizeWithFallback falls
// back to a simple string scan rather than dropping the notification.
package sanitization

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	redactedPrimary  = "***REDACTED***"
	redactedFallback = "[REDACTED]"
)

// secretPattern pairs a compiled matcher with the label it redacts, purely
// for readability when patterns are added or removed.
type secretPattern struct {
	name string
	re   *regexp.Regexp
}

var defaultPatterns = []secretPattern{
	{"password", regexp.MustCompile(`(?i)(password)\s*[:=]\s*['"]?[^\s'",}]+['"]?`)},
	{"token", regexp.MustCompile(`(?i)(token)\s*[:=]\s*['"]?[^\s'",}]+['"]?`)},
	{"api_key", regexp.MustCompile(`(?i)(api[_-]?key)\s*[:=]\s*['"]?[^\s'",}]+['"]?`)},
	{"secret", regexp.MustCompile(`(?i)\bsecret\s*[:=]\s*['"]?[^\s'",}]+['"]?`)},
	{"base64_blob", regexp.MustCompile(`(?i)(password|token)\s*:\s*[A-Za-z0-9+/]{16,}={0,2}`)},
}

// fallbackKeywords drives SafeFallback: a simple, regex-free scan so that a
// pathological input which breaks the regex engine still gets redacted.
var fallbackKeywords = []string{"password", "token", "api_key", "apikey", "secret"}

// Sanitizer redacts secret-shaped substrings from notification bodies.
type Sanitizer struct {
	patterns []secretPattern
}

// NewSanitizer builds a Sanitizer using the default secret patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{patterns: defaultPatterns}
}

// Sanitize applies the regex-based redaction pass. It can panic on
// pathological input from a misbehaving pattern; callers that need a
// guaranteed result should use SanitizeWithFallback instead.
func (s *Sanitizer) Sanitize(input string) string {
	out := input
	for _, p := range s.patterns {
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			return redactedPrimary
		})
	}
	return out
}

// SanitizeWithFallback runs the regex-based pass and recovers into
// SafeFallback if it panics, so a notification is never lost to a
// sanitization failure. Error is non-nil only when the fallback was used.
func (s *Sanitizer) SanitizeWithFallback(input string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = s.SafeFallback(input)
			err = fmt.Errorf("sanitization fallback triggered: %v", r)
		}
	}()
	return s.Sanitize(input), nil
}

// SafeFallback redacts secret-shaped substrings using plain string scanning,
// with no regex engine involved. It trades precision for an unconditional
// guarantee of forward progress on any input size or shape.
func (s *Sanitizer) SafeFallback(input string) string {
	if input == "" {
		return input
	}
	lower := strings.ToLower(input)
	var b strings.Builder
	b.Grow(len(input))

	i := 0
	for i < len(input) {
		matched := false
		for _, kw := range fallbackKeywords {
			if !strings.HasPrefix(lower[i:], kw) {
				continue
			}
			after := i + len(kw)
			colon := strings.IndexByte(input[after:], ':')
			if colon == -1 || colon > 4 {
				continue
			}
			valueStart := after + colon + 1
			for valueStart < len(input) && (input[valueStart] == ' ' || input[valueStart] == '\t') {
				valueStart++
			}
			quote := byte(0)
			if valueStart < len(input) && (input[valueStart] == '\'' || input[valueStart] == '"') {
				quote = input[valueStart]
				valueStart++
			}
			valueEnd := valueStart
			for valueEnd < len(input) {
				c := input[valueEnd]
				if quote != 0 {
					if c == quote {
						break
					}
				} else if c == ' ' || c == '\t' || c == ',' || c == '}' || c == '\n' || c == '\r' {
					break
				}
				valueEnd++
			}
			if valueEnd == valueStart {
				continue
			}
			b.WriteString(input[i:valueStart])
			b.WriteString(redactedFallback)
			i = valueEnd
			if quote != 0 && i < len(input) && input[i] == quote {
				i++
			}
			matched = true
			break
		}
		if !matched {
			b.WriteByte(input[i])
			i++
		}
	}
	return b.String()
}
