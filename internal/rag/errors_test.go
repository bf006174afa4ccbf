package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesSentinels(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		matches []error
		misses  []error
	}{
		{
			name:    "unreachable backend",
			err:     &Error{Kind: KindBackendUnavailable, Stage: StageEmbedding, Cause: CauseUnreachable, Err: errors.New("dial")},
			matches: []error{ErrBackendUnavailable, ErrUnreachable},
			misses:  []error{ErrInternal, ErrTimeout, ErrInput, ErrConfiguration},
		},
		{
			name:    "internal backend",
			err:     &Error{Kind: KindBackendUnavailable, Stage: StageRetrieval, Cause: CauseInternal},
			matches: []error{ErrBackendUnavailable, ErrInternal},
			misses:  []error{ErrUnreachable, ErrTimeout},
		},
		{
			name:    "timeout",
			err:     &Error{Kind: KindTimeout, Stage: StageGeneration},
			matches: []error{ErrTimeout},
			misses:  []error{ErrBackendUnavailable},
		},
		{
			name:    "wrapped input error",
			err:     fmt.Errorf("ingest: %w", Inputf(StageIngest, "directory not found: %s", "/x")),
			matches: []error{ErrInput},
			misses:  []error{ErrConfiguration},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range tt.matches {
				assert.ErrorIs(t, tt.err, target)
			}
			for _, target := range tt.misses {
				assert.NotErrorIs(t, tt.err, target)
			}
		})
	}
}

func TestError_EmptyTargetNeverMatches(t *testing.T) {
	err := &Error{Kind: KindInput}
	assert.False(t, err.Is(&Error{}))
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:  KindBackendUnavailable,
		Stage: StageEmbedding,
		Cause: CauseUnreachable,
		Op:    "EmbedQuery",
		Err:   errors.New("connection refused"),
	}
	assert.Equal(t, "embedding: EmbedQuery: backend unavailable (unreachable): connection refused", err.Error())
	assert.Equal(t, "timeout", ErrTimeout.Error())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(StageEmbedding, "op", nil))

	err := Classify(StageGeneration, "generate", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StageGeneration, StageOf(err))

	err = Classify(StageRetrieval, "search", errors.New("boom"))
	assert.Equal(t, KindBackendUnavailable, KindOf(err))

	original := Inputf(StageIngest, "bad")
	assert.Same(t, original, Classify(StageRetrieval, "search", original))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("remote")
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, m)

	_, err = ParseMode("distributed")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestIngestResult_JSONVariants(t *testing.T) {
	ok, err := json.Marshal(IngestSucceeded(2, 7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","chunks_added":2,"total_documents":7}`, string(ok))

	failed, err := json.Marshal(IngestFailed(NothingToIngest))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"no documents to ingest"}`, string(failed))
}

func TestMatch_Source(t *testing.T) {
	assert.Equal(t, "a.txt", Match{Metadata: map[string]string{MetaSource: "a.txt"}}.Source())
	assert.Equal(t, UnknownSource, Match{}.Source())
}
