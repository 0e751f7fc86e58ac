package noise

import (
	"regexp"
	"strings"
)

// privateBlock matches <private>...</private> blocks (non-greedy, dotall).
var privateBlock = regexp.MustCompile(`(?is)<private>.*?</private>`)

var blankRun = regexp.MustCompile(`[ \t]{2,}`)

// credentialPatterns catch secrets that should never be persisted verbatim.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{20,}=*`),
}

const redacted = "[REDACTED]"

// StripPrivate removes every <private> block, collapses the blank runs left
// behind, and redacts credential-shaped tokens.
func StripPrivate(text string) string {
	out := privateBlock.ReplaceAllString(text, " ")
	for _, p := range credentialPatterns {
		out = p.ReplaceAllString(out, redacted)
	}
	return strings.TrimSpace(blankRun.ReplaceAllString(out, " "))
}

// OnlyPrivate reports whether nothing but <private> blocks and whitespace
// remains in text.
func OnlyPrivate(text string) bool {
	return strings.TrimSpace(privateBlock.ReplaceAllString(text, "")) == ""
}
