package services

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TextPolicy bounds user supplied text: ping messages, replies and chat
// messages.
type TextPolicy struct {
	MaxLength      int
	ForbiddenTerms []string
}

type Validator struct {
	maxLength int
	terms     []string
}

func NewValidator(p TextPolicy) *Validator {
	terms := make([]string, 0, len(p.ForbiddenTerms))
	for _, t := range p.ForbiddenTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Validator{maxLength: p.MaxLength, terms: terms}
}

// Clean normalizes text and checks it against the policy. Line endings
// become \n, control and invisible format characters are dropped, runs of
// blank lines collapse to one and the result is trimmed.
func (v *Validator) Clean(field, text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", invalid(field, "must be valid UTF-8")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	newlines := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			if newlines > 2 {
				continue
			}
		case r == '\t':
			newlines = 0
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		default:
			newlines = 0
		}
		b.WriteRune(r)
	}

	clean := strings.TrimSpace(b.String())
	if clean == "" {
		return "", invalid(field, "must not be empty")
	}
	if v.maxLength > 0 && utf8.RuneCountInString(clean) > v.maxLength {
		return "", invalid(field, fmt.Sprintf("must be at most %d characters", v.maxLength))
	}
	lower := strings.ToLower(clean)
	for _, t := range v.terms {
		if strings.Contains(lower, t) {
			return "", invalid(field, "contains forbidden content")
		}
	}
	return clean, nil
}

// CleanOptional is Clean for optional fields: nil or blank input yields nil.
func (v *Validator) CleanOptional(field string, text *string) (*string, error) {
	if text == nil || strings.TrimSpace(*text) == "" {
		return nil, nil
	}
	clean, err := v.Clean(field, *text)
	if err != nil {
		return nil, err
	}
	return &clean, nil
}
