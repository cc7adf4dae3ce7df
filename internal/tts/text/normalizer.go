// Package text provides text normalization for speech synthesis input.
//
// Normalization folds user text into the plain lowercase ASCII the voice models
// were trained on and strips tokens a speaker should not read out: URLs, e-mail
// addresses, phone numbers and currency symbols.
package text

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// Regex patterns for removable tokens. They run on lowercased ASCII text.
const (
	urlRegexPattern        = `(?:https?://|ftp://|www\.)\S+`
	emailRegexPattern      = `[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`
	phoneRegexPattern      = `(?:\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`
	whitespaceRegexPattern = `\s+`
)

const removedTokenReplacement = " "

// Normalizer folds text into lowercase ASCII with URLs, e-mail addresses, phone
// numbers and currency symbols removed. It holds only precompiled patterns and is
// safe for concurrent use.
type Normalizer struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	phonePattern      *regexp.Regexp
	whitespacePattern *regexp.Regexp
}

// NewNormalizer creates a normalizer with its patterns compiled upfront.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		phonePattern:      regexp.MustCompile(phoneRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
	}
}

// Normalize applies, in order: Unicode NFKC canonicalization, currency symbol
// removal, transliteration to ASCII, lowercasing, and removal of URLs, e-mail
// addresses and phone numbers. Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	folded := norm.NFKC.String(text)

	// Currency symbols go before transliteration, which would spell "€" as "EUR".
	folded = removeCurrencySymbols(folded)
	folded = unidecode.Unidecode(folded)
	folded = strings.ToLower(folded)

	return n.scrub(folded)
}

// scrub removes tokens until the text stops changing. Removing a token can bring
// two fragments together that form a new match, so a single pass is not enough
// for idempotence. Every productive pass shortens the text, so the loop ends.
func (n *Normalizer) scrub(text string) string {
	current := n.normalizeWhitespace(text)

	for {
		next := n.scrubOnce(current)
		if next == current {
			return current
		}

		current = next
	}
}

func (n *Normalizer) scrubOnce(text string) string {
	text = removeCurrencySymbols(text)
	text = n.urlPattern.ReplaceAllString(text, removedTokenReplacement)
	text = n.emailPattern.ReplaceAllString(text, removedTokenReplacement)
	text = n.phonePattern.ReplaceAllString(text, removedTokenReplacement)

	return n.normalizeWhitespace(text)
}

// normalizeWhitespace collapses runs of whitespace into a single space.
func (n *Normalizer) normalizeWhitespace(text string) string {
	return strings.TrimSpace(n.whitespacePattern.ReplaceAllString(text, " "))
}

func removeCurrencySymbols(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Sc, r) {
			return -1
		}

		return r
	}, text)
}
