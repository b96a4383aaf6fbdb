// Package textutil normalizes email text before it is embedded in LLM
// prompts: raw bodies carry HTML, tracking URLs, signatures, and unicode
// noise that only waste tokens and skew classification.
package textutil

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// SubjectMaxLen and ContentMaxLen bound the cleaned fields placed in
	// prompts.
	SubjectMaxLen = 50
	ContentMaxLen = 1000
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	urlRe        = regexp.MustCompile(`https?://[^\s]+`)

	// signatureRe matches common signature markers and everything after
	// them.
	signatureRe = regexp.MustCompile(
		`(?ms)(Best regards,|Regards,|Sincerely,|Thanks,|Thank you,|Cheers,|^--\s*$|Sent from my iPhone|Sent from my iPad|Get Outlook for).*\z`,
	)
)

// StripHTML removes HTML tags and decodes HTML entities.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	return html.UnescapeString(s)
}

// NormalizeWhitespace collapses runs of whitespace into single spaces
// and trims the result.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// FoldUnicode decomposes accented characters and drops what does not fit
// in ASCII, so "café" becomes "cafe".
func FoldUnicode(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RemoveURLs strips URLs from text.
func RemoveURLs(s string) string {
	return urlRe.ReplaceAllString(s, "")
}

// RemoveSignature cuts the text at the first common signature marker.
func RemoveSignature(s string) string {
	return signatureRe.ReplaceAllString(s, "")
}

// Truncate limits text to max runes, appending an ellipsis when it cut
// anything. Non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " ") + "..."
}

// CleanContent runs the full cleaning sequence used before prompting:
// HTML strip, signature removal, URL removal, unicode fold, whitespace
// collapse, and truncation.
func CleanContent(s string, max int) string {
	s = StripHTML(s)
	s = RemoveSignature(s)
	s = RemoveURLs(s)
	s = FoldUnicode(s)
	s = NormalizeWhitespace(s)
	return Truncate(s, max)
}

// CleanSubject cleans a subject line with the subject length bound.
func CleanSubject(s string) string {
	return CleanContent(s, SubjectMaxLen)
}
