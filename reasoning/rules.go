package reasoning

import (
	"context"
	"strings"
	"unicode"
)

const rulesProvider = "rules"

// Rules is a Reasoner that needs no network. It extracts nothing and asks
// the canned question of the first missing field that has not been asked.
// It serves when no model is configured.
type Rules struct{}

// NewRules creates the rule-based backend.
func NewRules() *Rules {
	return &Rules{}
}

// Name returns "rules".
func (r *Rules) Name() string {
	return rulesProvider
}

// Extract always returns an empty extraction.
func (r *Rules) Extract(context.Context, ExtractRequest) (Extraction, error) {
	return Extraction{}, nil
}

// Respond returns the next unasked canned question, or "" when every
// missing field has been asked about.
func (r *Rules) Respond(_ context.Context, req RespondRequest) (string, error) {
	f, ok := NextQuestion(req.Fields, req.Collected, req.Asked)
	if !ok {
		return "", nil
	}
	return f.Question, nil
}

// NextQuestion returns the first field, in catalogue order, that has no
// value and whose question has not been asked yet.
func NextQuestion(fields []FieldSpec, collected map[string]string, asked []string) (FieldSpec, bool) {
	for _, f := range missingFields(fields, collected) {
		if f.Question == "" || AlreadyAsked(f, asked) {
			continue
		}
		return f, true
	}
	return FieldSpec{}, false
}

// AlreadyAsked reports whether any agent utterance repeats the field's
// question or mentions one of its keywords.
func AlreadyAsked(f FieldSpec, asked []string) bool {
	question := Normalize(f.Question)
	for _, a := range asked {
		norm := Normalize(a)
		if question != "" && strings.Contains(norm, question) {
			return true
		}
		for _, kw := range f.Keywords {
			if k := Normalize(kw); k != "" && containsPhrase(norm, k) {
				return true
			}
		}
	}
	return false
}

// Normalize lowercases s, drops punctuation and collapses whitespace, so
// that "What are your hours?" and "what are your  hours" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// containsPhrase matches whole words only.
func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
