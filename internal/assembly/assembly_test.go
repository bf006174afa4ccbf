package assembly

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

func match(source, text string, score float64) rag.Match {
	return rag.Match{Text: text, Metadata: map[string]string{rag.MetaSource: source}, Score: score}
}

func TestBuild_FormatsAndJoins(t *testing.T) {
	matches := []rag.Match{
		match("handbook.txt", "Vacation is 25 days.", 0.91234),
		match("it.txt", "Laptops ship on day one.", 0.5),
	}

	ctx, sources := Build(matches, 2000)

	assert.Equal(t,
		"[Source: handbook.txt]\nVacation is 25 days.\n\n---\n\n[Source: it.txt]\nLaptops ship on day one.",
		ctx)
	require.Len(t, sources, 2)
	assert.Equal(t, rag.Source{Source: "handbook.txt", Score: 0.9123, Excerpt: "Vacation is 25 days...."}, sources[0])
	assert.Equal(t, "it.txt", sources[1].Source)
}

func TestBuild_TruncatesJoinedContext(t *testing.T) {
	long := strings.Repeat("x", 300)
	matches := []rag.Match{match("a.txt", long, 0.9), match("b.txt", long, 0.8)}

	ctx, sources := Build(matches, 100)

	assert.Equal(t, 103, utf8.RuneCountInString(ctx))
	assert.True(t, strings.HasSuffix(ctx, Ellipsis))
	assert.True(t, strings.HasPrefix(ctx, "[Source: a.txt]\n"))
	require.Len(t, sources, 2, "truncation never drops attribution")
	assert.Equal(t, strings.Repeat("x", 150)+Ellipsis, sources[1].Excerpt)
}

func TestBuild_NoTruncationAtExactLength(t *testing.T) {
	matches := []rag.Match{match("a.txt", "hello", 1)}
	want := "[Source: a.txt]\nhello"

	ctx, _ := Build(matches, utf8.RuneCountInString(want))
	assert.Equal(t, want, ctx)
}

func TestBuild_MissingSourceAndDefaultLength(t *testing.T) {
	ctx, sources := Build([]rag.Match{{Text: "orphan", Score: 0.3}}, 0)
	assert.Equal(t, "[Source: unknown]\norphan", ctx)
	assert.Equal(t, rag.UnknownSource, sources[0].Source)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short...", Excerpt("short"))

	multibyte := strings.Repeat("é", 200)
	got := Excerpt(multibyte)
	assert.Equal(t, 153, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.123456))
	assert.Equal(t, -0.25, Round4(-0.25))
	assert.Equal(t, 1.0, Round4(0.99999))
}

func TestPrompt(t *testing.T) {
	p := Prompt("[Source: a.txt]\nfacts", "What are the facts?")

	assert.Contains(t, p, "CONTEXT:\n[Source: a.txt]\nfacts\n\nQUESTION: What are the facts?")
	assert.True(t, strings.HasSuffix(p, "ANSWER:"))
	assert.Equal(t, p, Prompt("[Source: a.txt]\nfacts", "What are the facts?"))
}
