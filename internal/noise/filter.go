// Package noise decides which texts are not worth remembering or recalling:
// agent denials, questions about memory itself, and session boilerplate.
package noise

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinLength is the shortest trimmed text, in runes, that can carry meaning.
const MinLength = 5

// Options toggles the pattern families. Length filtering is always on.
type Options struct {
	Denials       bool
	MetaQuestions bool
	Boilerplate   bool
}

// DefaultOptions enables every pattern family.
func DefaultOptions() Options {
	return Options{Denials: true, MetaQuestions: true, Boilerplate: true}
}

var denialPatterns = compile(
	`(?i)\bi don'?t have (any )?(information|data|memory|memories|records?|details)\b`,
	`(?i)\bi'?m not sure about\b`,
	`(?i)\bi don'?t (recall|remember)\b`,
	`(?i)\bit looks like i don'?t\b`,
	`(?i)\bi (wasn'?t|was not) able to find\b`,
	`(?i)\bno (relevant )?memor(y|ies) (found|available)\b`,
	`(?i)\bi don'?t have access to\b`,
)

var metaQuestionPatterns = compile(
	`(?i)\bdo you (remember|recall|know about)\b`,
	`(?i)\bcan you (remember|recall)\b`,
	`(?i)\bdid i (tell|mention|say|share)\b`,
	`(?i)\bhave i (told|mentioned|said)\b`,
	`(?i)\bwhat did i (tell|say|mention)\b`,
)

var boilerplatePatterns = compile(
	`(?i)^(hi|hello|hey|yo|greetings|good (morning|afternoon|evening)|thanks|thank you)\b[\s\p{P}]*(there|everyone|all|again)?[\s\p{P}]*$`,
	`(?i)^(fresh|new) session\b`,
	`(?i)^session (started|resumed)\b`,
	`(?i)^heartbeat\b`,
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// IsNoise reports whether text is too short or matches an enabled pattern family.
func IsNoise(text string, opts Options) bool {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < MinLength {
		return true
	}
	if opts.Denials && matchAny(denialPatterns, t) {
		return true
	}
	if opts.MetaQuestions && matchAny(metaQuestionPatterns, t) {
		return true
	}
	if opts.Boilerplate && matchAny(boilerplatePatterns, t) {
		return true
	}
	return false
}

// Filter returns the items whose text is not noise, preserving order.
func Filter[T any](items []T, text func(T) string, opts Options) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if !IsNoise(text(it), opts) {
			out = append(out, it)
		}
	}
	return out
}
