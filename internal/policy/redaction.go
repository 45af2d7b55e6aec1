package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	mask    string
}

// Rules run in order: PIN and password first so their digits are not
// consumed by the numeric patterns, card before SSN and phone so long
// digit runs are not misclassified, bare 9-digit SSNs before phone for
// the same reason.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`(?i)\bPIN\s*:?\s*\d{4}\b`), "[REDACTED_PIN]"},
	{regexp.MustCompile(`(?i)\bpassword\s*:?\s*\S+`), "[REDACTED_PASSWORD]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`\b\d{9}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks high-risk PII before transcript or state text reaches
// logs. Callers log the redacted form only; the in-memory transcript
// keeps the original text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
