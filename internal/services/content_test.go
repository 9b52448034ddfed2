package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContent(t *testing.T) {
	tests := map[string]string{
		"  hello \n\t world  ":                      "hello world",
		"hi <script>alert(1)</script>there":         "hi there",
		`<a href="javascript:void(0)">x</a>`:        `<a href="void(0)">x</a>`,
		`<img src=x onerror=alert(1)>`:              `<img src=x alert(1)>`,
		"before <iframe src='evil'></iframe> after": "before after",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeContent(in), "input %q", in)
	}
}

func TestValidateContent(t *testing.T) {
	got, err := ValidateContent("We reached 80% of the goal, thank you!")
	require.NoError(t, err)
	assert.Equal(t, "We reached 80% of the goal, thank you!", got)

	_, err = ValidateContent(strings.Repeat("ab", 1001))
	assert.ErrorIs(t, err, ErrContentTooLong)

	_, err = ValidateContent(strings.Repeat("éa", maxContentLength/2))
	assert.NoError(t, err, "length is counted in characters")

	_, err = ValidateContent(" \n\t ")
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = ValidateContent("!!??!!?? ok")
	assert.ErrorIs(t, err, ErrExcessiveSymbols)

	_, err = ValidateContent("aaaaaaaaaa")
	assert.NoError(t, err, "ten repeats are allowed")

	_, err = ValidateContent("aaaaaaaaaaa")
	assert.ErrorIs(t, err, ErrSpamContent)

	_, err = ValidateContent("Win big tonight")
	assert.ErrorIs(t, err, ErrSpamContent)
}
