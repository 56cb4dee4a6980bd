package verify

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// Entailer scores how well evidence texts support a claim, in [0,1]
type Entailer interface {
	Name() string
	Entails(ctx context.Context, claimText string, evidence []string) (float64, error)
}

// LexicalEntailer scores the fraction of the claim's content words that
// occur in the evidence. Identifiers are split on case changes and
// underscores so "parseConfig" supports "parse config".
type LexicalEntailer struct{}

// Name implements Entailer
func (LexicalEntailer) Name() string { return "lexical" }

// Entails implements Entailer
func (LexicalEntailer) Entails(_ context.Context, claimText string, evidence []string) (float64, error) {
	want := contentWords(claimText)
	if len(want) == 0 {
		return 0, nil
	}
	have := make(map[string]struct{})
	for _, text := range evidence {
		for w := range contentWords(text) {
			have[w] = struct{}{}
		}
	}

	hits := 0
	for w := range want {
		if _, ok := have[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want)), nil
}

var wordRegex = regexp.MustCompile(`[A-Za-z0-9]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "which": {}, "with": {},
}

func contentWords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(tok) {
			w := strings.ToLower(part)
			if _, stop := stopwords[w]; stop {
				continue
			}
			out[w] = struct{}{}
		}
	}
	return out
}

// splitIdentifier breaks camelCase and PascalCase runs apart; acronyms
// stay together ("HTTPServer" -> "HTTP", "Server").
func splitIdentifier(tok string) []string {
	runes := []rune(tok)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
		if unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}
