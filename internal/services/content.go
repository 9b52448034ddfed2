package services

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxContentLength = 2000
	maxRepeatedRun   = 10
)

var (
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrContentTooLong   = errors.New("message content cannot exceed 2000 characters")
	ErrSpamContent      = errors.New("message contains spam-like content")
	ErrExcessiveCaps    = errors.New("message validation failed: excessive capitalization")
	ErrExcessiveSymbols = errors.New("message validation failed: excessive special characters")
)

var (
	scriptTag     = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	iframeTag     = regexp.MustCompile(`(?is)<iframe\b.*?</iframe>`)
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	inlineHandler = regexp.MustCompile(`(?i)on\w+\s*=`)
	spamPhrases   = regexp.MustCompile(`(?i)\b(buy now|click here|free money|win big)\b`)
)

const specialChars = `!@#$%^&*(),.?":{}|<>`

func checkContentLength(content string) error {
	switch n := utf8.RuneCountInString(content); {
	case n == 0:
		return ErrEmptyContent
	case n > maxContentLength:
		return ErrContentTooLong
	}
	return nil
}

// NormalizeContent strips active markup and collapses whitespace.
func NormalizeContent(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = iframeTag.ReplaceAllString(content, "")
	content = jsScheme.ReplaceAllString(content, "")
	content = inlineHandler.ReplaceAllString(content, "")
	return strings.Join(strings.Fields(content), " ")
}

// ValidateContent normalizes content and rejects empty, oversized, spammy
// or shouting messages.
func ValidateContent(content string) (string, error) {
	content = NormalizeContent(content)
	if err := checkContentLength(content); err != nil {
		return "", err
	}
	if hasRepeatedRun(content, maxRepeatedRun) || spamPhrases.MatchString(content) {
		return "", ErrSpamContent
	}

	n := utf8.RuneCountInString(content)
	var upper, symbols int
	for _, r := range content {
		if r <= unicode.MaxASCII && unicode.IsUpper(r) {
			upper++
		}
		if strings.ContainsRune(specialChars, r) {
			symbols++
		}
	}
	if n > 10 && float64(upper)/float64(n) > 0.7 {
		return "", ErrExcessiveCaps
	}
	if float64(symbols)/float64(n) > 0.3 {
		return "", ErrExcessiveSymbols
	}
	return content, nil
}

// hasRepeatedRun reports whether some rune occurs more than limit times in a row.
func hasRepeatedRun(s string, limit int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > limit {
			return true
		}
		prev = r
	}
	return false
}
