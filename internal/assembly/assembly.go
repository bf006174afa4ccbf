// Package assembly turns ranked matches into a bounded prompt context with
// source attribution. Both orchestrators build prompts here, which keeps
// prompts byte-identical across transports.
package assembly

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const (
	// Separator joins formatted matches.
	Separator = "\n\n---\n\n"

	// Ellipsis marks truncated context and every excerpt.
	Ellipsis = "..."

	// ExcerptLength is the number of runes kept per source excerpt.
	ExcerptLength = 150

	DefaultMaxLength = 2000
)

const promptTemplate = `You are a corporate onboarding assistant.

CONTEXT:
{context}

QUESTION: {query}

INSTRUCTIONS:
- Use ONLY the information in the context
- Be clear and objective
- Cite the sources

ANSWER:`

// Build formats matches in rank order, joins them and truncates the joined
// string to maxLength runes. Sources are built from the untruncated matches.
// A non-positive maxLength means DefaultMaxLength.
func Build(matches []rag.Match, maxLength int) (string, []rag.Source) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = "[Source: " + m.Source() + "]\n" + m.Text
	}
	return truncate(strings.Join(parts, Separator), maxLength), Sources(matches)
}

// Sources returns one attribution record per match.
func Sources(matches []rag.Match) []rag.Source {
	sources := make([]rag.Source, len(matches))
	for i, m := range matches {
		sources[i] = rag.Source{
			Source:  m.Source(),
			Score:   Round4(m.Score),
			Excerpt: Excerpt(m.Text),
		}
	}
	return sources
}

// Excerpt returns the first ExcerptLength runes of text followed by Ellipsis.
func Excerpt(text string) string {
	return prefix(text, ExcerptLength) + Ellipsis
}

// Round4 rounds to four decimal places.
func Round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}

// Prompt renders the generation prompt for a context and query.
func Prompt(context, query string) string {
	r := strings.NewReplacer("{context}", context, "{query}", query)
	return r.Replace(promptTemplate)
}

func truncate(s string, maxLength int) string {
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	return prefix(s, maxLength) + Ellipsis
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
