package poll

import (
	"errors"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  Best color?  ":                 "Best color?",
		"<script>alert(1)</script>":       "scriptalert(1)/script",
		"a < b > c":                       "a  b  c",
		" <> ":                            "",
		"<b>bold</b> & \"quotes\"":        "bbold/b & \"quotes\"",
		"\t\nplain\n":                     "plain",
		"<img src=x onerror=alert(1)>":    "img src=x onerror=alert(1)",
		"javascript:alert(document.url)":  "javascript:alert(document.url)",
		"   <   leading bracket":          "leading bracket",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
}

func TestSanitizeProperties(t *testing.T) {
	idempotent := func(s string) bool { return Sanitize(Sanitize(s)) == Sanitize(s) }
	require.NoError(t, quick.Check(idempotent, nil))

	noBrackets := func(s string) bool { return !strings.ContainsAny(Sanitize(s), "<>") }
	require.NoError(t, quick.Check(noBrackets, nil))
}

func TestValidatePollInput(t *testing.T) {
	q, opts, err := ValidatePollInput(" <i>Best color?</i> ", []string{"Red", " ", "<>", "Blue "})
	require.NoError(t, err)
	assert.Equal(t, "iBest color?/i", q)
	assert.Equal(t, []string{"Red", "Blue"}, opts)

	_, _, err = ValidatePollInput("   ", []string{"a", "b"})
	assertValidation(t, err, "Please provide a question and at least two options.")

	_, _, err = ValidatePollInput("Only one?", []string{"yes", "<>"})
	assertValidation(t, err, "Please provide a question and at least two options.")

	_, _, err = ValidatePollInput(strings.Repeat("q", MaxQuestionLength), []string{"a", "b"})
	assert.NoError(t, err)

	_, _, err = ValidatePollInput(strings.Repeat("q", MaxQuestionLength+1), []string{"a", "b"})
	assertValidation(t, err, "Question is too long. Maximum 500 characters allowed.")

	_, _, err = ValidatePollInput("q", []string{"a", strings.Repeat("o", MaxOptionLength+1)})
	assertValidation(t, err, "Options are too long. Maximum 200 characters per option allowed.")

	// Length is measured in characters, not bytes.
	_, _, err = ValidatePollInput(strings.Repeat("é", MaxQuestionLength), []string{"a", "b"})
	assert.NoError(t, err)
}

func assertValidation(t *testing.T, err error, reason string) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
	assert.Equal(t, reason, verr.Reason)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
