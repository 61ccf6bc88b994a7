package memory

import (
	"regexp"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

var wordPattern = regexp.MustCompile(`[\p{Han}A-Za-z0-9]+`)

// lexicalScore blends the sequence-matcher ratio (over runes) with the share
// of query words found in content: min(1, 0.6*ratio + 0.4*overlap).
func lexicalScore(query, content string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	content = strings.ToLower(strings.TrimSpace(content))
	if query == "" || content == "" {
		return 0
	}

	ratio := difflib.NewMatcher(runeStrings(query), runeStrings(content)).Ratio()

	queryWords := wordSet(query)
	contentWords := wordSet(content)
	shared := 0
	for w := range queryWords {
		if _, ok := contentWords[w]; ok {
			shared++
		}
	}
	overlap := float64(shared) / float64(max(1, len(queryWords)))

	return min(1, 0.6*ratio+0.4*overlap)
}

func runeStrings(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func wordSet(s string) map[string]struct{} {
	words := wordPattern.FindAllString(s, -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// recencyBonus is a step function of the record age.
func recencyBonus(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := max(0, now.Sub(updatedAt))
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.6
	case age <= 30*24*time.Hour:
		return 0.3
	default:
		return 0.1
	}
}
