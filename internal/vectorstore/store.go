// Package vectorstore persists chunk texts with their embeddings and answers
// nearest-neighbour queries by cosine similarity.
//
// Two backends are provided: ChromemStore, an embedded store persisted to a
// local directory, and QdrantStore, a client for an external Qdrant server.
// Both rank ties by insertion order so that search results are deterministic.
package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

var (
	// ErrInvalidCollectionName is returned for names outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch is wrapped by configuration errors for
	// embeddings whose length differs from the store's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// metaSeq is the reserved metadata key holding a document's insertion
// sequence number. It is stripped from search results.
const metaSeq = "_seq"

// Store is the contract shared by every backend. All methods are safe for
// concurrent use; Reset excludes every other operation while it runs.
type Store interface {
	// AddDocuments stores one document per text. The three slices must have
	// equal length. It returns once the documents are durable.
	AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) error
	// Search returns at most k matches by descending score. Ties keep
	// insertion order. A non-positive k means rag.DefaultTopK.
	Search(ctx context.Context, embedding []float32, k int) ([]rag.Match, error)
	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
	// Reset drops every document.
	Reset(ctx context.Context) error
	// Dimension returns the embedding length the store accepts, or 0 while
	// it is still unknown.
	Dimension() int
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// validateBatch checks the shape of an AddDocuments call against dim. A
// zero dim accepts the first embedding's length. It returns the batch
// dimension.
func validateBatch(dim int, texts []string, embeddings [][]float32, metadatas []map[string]string) (int, error) {
	if len(texts) != len(embeddings) || (metadatas != nil && len(texts) != len(metadatas)) {
		return 0, rag.Inputf(rag.StageRetrieval,
			"texts, embeddings and metadatas must have equal length (got %d, %d, %d)",
			len(texts), len(embeddings), len(metadatas))
	}
	for i, e := range embeddings {
		if dim == 0 {
			dim = len(e)
		}
		if len(e) == 0 || len(e) != dim {
			return 0, dimensionError(dim, len(e), i)
		}
	}
	return dim, nil
}

// reconcileDimension settles the dimension of a store that already holds
// vectors of length stored (0 if unknown or empty). A configured dimension
// of 0 adopts stored; any other disagreement is a configuration error.
func reconcileDimension(configured, stored int, collection string) (int, error) {
	switch {
	case stored == 0:
		return configured, nil
	case configured == 0 || configured == stored:
		return stored, nil
	default:
		return 0, &rag.Error{
			Kind:  rag.KindConfiguration,
			Stage: rag.StageRetrieval,
			Op:    "open",
			Err: fmt.Errorf("%w: collection %s holds %d-dimensional vectors, configured dimension is %d",
				ErrDimensionMismatch, collection, stored, configured),
		}
	}
}

func checkQuery(dim int, embedding []float32) error {
	if len(embedding) == 0 {
		return rag.Inputf(rag.StageRetrieval, "query embedding is empty")
	}
	if dim != 0 && len(embedding) != dim {
		return dimensionError(dim, len(embedding), -1)
	}
	return nil
}

func dimensionError(want, got, index int) error {
	where := "query"
	if index >= 0 {
		where = "document " + strconv.Itoa(index)
	}
	return &rag.Error{
		Kind:  rag.KindConfiguration,
		Stage: rag.StageRetrieval,
		Err:   fmt.Errorf("%w: %s has dimension %d, store expects %d", ErrDimensionMismatch, where, got, want),
	}
}

// withSeq copies md and adds the sequence key.
func withSeq(md map[string]string, seq int64) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[metaSeq] = strconv.FormatInt(seq, 10)
	return out
}

// ranked is a candidate match with its insertion sequence.
type ranked struct {
	match rag.Match
	seq   int64
}

// rank orders candidates by descending score then ascending sequence and
// keeps the first k.
func rank(cands []ranked, k int) []rag.Match {
	slices.SortStableFunc(cands, func(a, b ranked) int {
		if c := cmp.Compare(b.match.Score, a.match.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]rag.Match, len(cands))
	for i, c := range cands {
		out[i] = c.match
	}
	return out
}

// splitSeq removes the sequence key from md and returns it. Documents
// without one sort last.
func splitSeq(md map[string]string) (map[string]string, int64) {
	seq := int64(math.MaxInt64)
	out := make(map[string]string, len(md))
	for k, v := range md {
		if k == metaSeq {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				seq = n
			}
			continue
		}
		out[k] = v
	}
	return out, seq
}

func topK(k int) int {
	if k <= 0 {
		return rag.DefaultTopK
	}
	return k
}
