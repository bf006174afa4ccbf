package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

func newTestChromem(t *testing.T, dim int) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Collection: "test_docs", Dimension: dim}, nil)
	require.NoError(t, err)
	return s
}

func md(source string) map[string]string {
	return map[string]string{rag.MetaSource: source}
}

func TestChromemStore_AddCountReset(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 3)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = s.AddDocuments(ctx,
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		[]map[string]string{md("a.txt"), md("b.txt"), md("c.txt")})
	require.NoError(t, err)

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.Reset(ctx))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	matches, err := s.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_SearchOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 2)

	require.NoError(t, s.AddDocuments(ctx,
		[]string{"far", "near", "middle"},
		[][]float32{{0, 1}, {1, 0.01}, {1, 1}},
		[]map[string]string{md("far.txt"), md("near.txt"), md("middle.txt")}))

	matches, err := s.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3, "k above count returns count results")

	assert.Equal(t, "near", matches[0].Text)
	assert.Equal(t, "middle", matches[1].Text)
	assert.Equal(t, "far", matches[2].Text)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.InDelta(t, 0.7071, matches[1].Score, 1e-3)
	assert.Equal(t, map[string]string{rag.MetaSource: "near.txt"}, matches[0].Metadata, "sequence key is internal")

	matches, err = s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestChromemStore_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 2)

	for batch := 0; batch < 3; batch++ {
		texts := make([]string, 4)
		embs := make([][]float32, 4)
		for i := range texts {
			texts[i] = fmt.Sprintf("doc-%d-%d", batch, i)
			embs[i] = []float32{1, 1}
		}
		require.NoError(t, s.AddDocuments(ctx, texts, embs, nil))
	}

	for run := 0; run < 5; run++ {
		matches, err := s.Search(ctx, []float32{1, 1}, 5)
		require.NoError(t, err)
		require.Len(t, matches, 5)
		assert.Equal(t, "doc-0-0", matches[0].Text)
		assert.Equal(t, "doc-0-3", matches[3].Text)
		assert.Equal(t, "doc-1-0", matches[4].Text)
	}
}

func TestChromemStore_DefaultTopK(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 2)

	texts := make([]string, 8)
	embs := make([][]float32, 8)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
		embs[i] = []float32{1, float32(i)}
	}
	require.NoError(t, s.AddDocuments(ctx, texts, embs, nil))

	matches, err := s.Search(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, matches, rag.DefaultTopK)
}

func TestChromemStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 3)

	err := s.AddDocuments(ctx, []string{"a", "b"}, [][]float32{{1, 0, 0}}, nil)
	assert.ErrorIs(t, err, rag.ErrInput)

	err = s.AddDocuments(ctx, []string{"a"}, [][]float32{{1, 0}}, nil)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, rag.ErrConfiguration)

	_, err = NewChromemStore(ChromemConfig{Collection: "Bad-Name"}, nil)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestChromemStore_AdoptsFirstDimension(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 0)
	assert.Zero(t, s.Dimension())

	require.NoError(t, s.AddDocuments(ctx, []string{"a"}, [][]float32{{1, 2}}, nil))
	assert.Equal(t, 2, s.Dimension())

	err := s.AddDocuments(ctx, []string{"b"}, [][]float32{{1, 2, 3}}, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := ChromemConfig{Path: dir, Collection: "persisted", Dimension: 2}

	s, err := NewChromemStore(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddDocuments(ctx, []string{"first", "second"}, [][]float32{{1, 1}, {1, 1}}, nil))

	reopened, err := NewChromemStore(cfg, nil)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, reopened.AddDocuments(ctx, []string{"third"}, [][]float32{{1, 1}}, nil))
	matches, err := reopened.Search(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{matches[0].Text, matches[1].Text, matches[2].Text})
}

func TestChromemStore_ConcurrentAddSearchReset(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 2)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, s.AddDocuments(ctx, []string{fmt.Sprintf("w%d-%d", w, i)}, [][]float32{{1, float32(w)}}, nil))
				_, err := s.Search(ctx, []float32{1, 0}, 3)
				assert.NoError(t, err)
				if w == 0 && i == 10 {
					assert.NoError(t, s.Reset(ctx))
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 160)
}

func TestChromemStore_ReopenAdoptsStoredDimension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "reopen_docs"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddDocuments(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, nil))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "reopen_docs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Dimension())

	err = reopened.AddDocuments(ctx, []string{"b"}, [][]float32{{1, 0, 0, 0}}, nil)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := reopened.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Text)
}

func TestChromemStore_ReopenWithConflictingDimension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "conflict_docs", Dimension: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddDocuments(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, nil))

	_, err = NewChromemStore(ChromemConfig{Path: dir, Collection: "conflict_docs", Dimension: 5}, nil)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	same, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "conflict_docs", Dimension: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, same.Dimension())
}

func TestChromemStore_ReopenEmptyKeepsConfiguredDimension(t *testing.T) {
	dir := t.TempDir()
	_, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "empty_docs"}, nil)
	require.NoError(t, err)

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "empty_docs", Dimension: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, reopened.Dimension())
}

func TestChromemStore_ConcurrentFirstBatchesAgreeOnDimension(t *testing.T) {
	ctx := context.Background()

	for run := 0; run < 20; run++ {
		s := newTestChromem(t, 0)
		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		for i, dim := range []int{2, 3} {
			wg.Add(1)
			go func(i, dim int) {
				defer wg.Done()
				errs[i] = s.AddDocuments(ctx, []string{"x"}, [][]float32{ones(dim)}, nil)
			}(i, dim)
		}
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				failed++
				assert.ErrorIs(t, err, ErrDimensionMismatch)
			}
		}
		assert.Equal(t, 1, failed, "exactly one first batch wins")
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestChromemStore_MissingCollectionIsUnavailableUntilReset(t *testing.T) {
	ctx := context.Background()
	s := newTestChromem(t, 2)
	require.NoError(t, s.AddDocuments(ctx, []string{"a"}, [][]float32{{1, 0}}, nil))

	s.collection = nil

	_, err := s.Count(ctx)
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
	_, err = s.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, rag.ErrBackendUnavailable)
	assert.ErrorIs(t, s.AddDocuments(ctx, []string{"b"}, [][]float32{{0, 1}}, nil), rag.ErrBackendUnavailable)

	require.NoError(t, s.Reset(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func ones(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
