package poll

import (
	"strings"
	"unicode/utf8"
)

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Sanitize strips '<' and '>' and trims surrounding whitespace.
//
// This is a denylist: it blocks literal tags only. Output still needs
// context-aware encoding wherever it is rendered.
func Sanitize(s string) string {
	return strings.TrimSpace(angleBrackets.Replace(s))
}

// ValidatePollInput sanitizes question and options and checks their shape.
// Options that are empty after sanitizing are dropped before counting.
func ValidatePollInput(question string, options []string) (string, []string, error) {
	question = Sanitize(question)
	cleaned := make([]string, 0, len(options))
	for _, opt := range options {
		if opt = Sanitize(opt); opt != "" {
			cleaned = append(cleaned, opt)
		}
	}
	if question == "" || len(cleaned) < MinOptions {
		return "", nil, &ValidationError{Reason: "Please provide a question and at least two options."}
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return "", nil, &ValidationError{Reason: "Question is too long. Maximum 500 characters allowed."}
	}
	for _, opt := range cleaned {
		if utf8.RuneCountInString(opt) > MaxOptionLength {
			return "", nil, &ValidationError{Reason: "Options are too long. Maximum 200 characters per option allowed."}
		}
	}
	return question, cleaned, nil
}
