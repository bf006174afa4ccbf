// Package rag defines the records exchanged between pipeline stages and
// returned to callers, together with the error taxonomy every stage reports.
//
// The package has no dependencies on transports or backends so that the
// local and remote orchestrators share one vocabulary.
package rag

import (
	"encoding/json"
	"fmt"
)

// Mode identifies which transport produced a result.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeRemote:
		return Mode(s), nil
	}
	return "", Configf(StageConfig, "unknown mode %q (expected local or remote)", s)
}

// Metadata keys written on every stored chunk.
const (
	MetaSource  = "source"
	MetaChunkID = "chunk_id"
)

const (
	// DefaultTopK is used whenever a caller passes a non-positive top_k.
	DefaultTopK = 5

	// UnknownSource labels matches stored without a source key.
	UnknownSource = "unknown"

	// NoDocumentsAnswer is returned when retrieval finds nothing.
	NoDocumentsAnswer = "no documents found"

	// NothingToIngest is the message for an ingestion with no usable input.
	NothingToIngest = "no documents to ingest"
)

// Chunk is a bounded slice of one source document.
// Index restarts at zero for every source file.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Index  int    `json:"chunk_index"`
}

// Metadata returns the metadata stored alongside the chunk.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaSource:  c.Source,
		MetaChunkID: fmt.Sprintf("%d", c.Index),
	}
}

// Match is one retrieval hit. Score is cosine similarity (1 - cosine
// distance) and is reported as-is; it is never clamped to [0,1].
type Match struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// Source returns the match's source label.
func (m Match) Source() string {
	if s := m.Metadata[MetaSource]; s != "" {
		return s
	}
	return UnknownSource
}

// Source attributes an answer to one retrieved match.
type Source struct {
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

// AnswerResult is returned once per query.
type AnswerResult struct {
	Query       string   `json:"query"`
	Answer      string   `json:"answer"`
	Sources     []Source `json:"sources"`
	ContextUsed int      `json:"context_used"`
	Mode        Mode     `json:"mode"`
}

// IngestRequest names the inputs of one ingestion. Either field may be empty.
type IngestRequest struct {
	Files     []string `json:"file_paths,omitempty"`
	Directory string   `json:"directory_path,omitempty"`
}

// Status is the outcome tag on ingest and reset results.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IngestResult is either a success carrying counts or an error carrying a
// message. Use IngestSucceeded and IngestFailed to build one.
type IngestResult struct {
	Status         Status
	ChunksAdded    int
	TotalDocuments int
	Message        string
	// Err is the failure behind an error result, when there is one. It is
	// not serialized.
	Err error
}

// IngestSucceeded builds a success result.
func IngestSucceeded(added, total int) IngestResult {
	return IngestResult{Status: StatusSuccess, ChunksAdded: added, TotalDocuments: total}
}

// IngestFailed builds an error result.
func IngestFailed(message string) IngestResult {
	return IngestResult{Status: StatusError, Message: message}
}

// IngestError builds an error result from err.
func IngestError(err error) IngestResult {
	return IngestResult{Status: StatusError, Message: err.Error(), Err: err}
}

// OK reports whether the ingestion succeeded.
func (r IngestResult) OK() bool { return r.Status == StatusSuccess }

// MarshalJSON emits only the fields that belong to the result's variant.
func (r IngestResult) MarshalJSON() ([]byte, error) {
	if r.Status == StatusSuccess {
		return json.Marshal(struct {
			Status         Status `json:"status"`
			ChunksAdded    int    `json:"chunks_added"`
			TotalDocuments int    `json:"total_documents"`
		}{r.Status, r.ChunksAdded, r.TotalDocuments})
	}
	return json.Marshal(struct {
		Status  Status `json:"status"`
		Message string `json:"message"`
	}{StatusError, r.Message})
}

// Stats describes the corpus and the models serving it.
type Stats struct {
	TotalDocuments  int    `json:"total_documents"`
	EmbeddingModel  string `json:"embedding_model"`
	GenerationModel string `json:"generation_model"`
	Mode            Mode   `json:"mode"`
}

// ResetResult reports the outcome of a full store reset.
type ResetResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health status values.
const (
	Healthy   = "healthy"
	Unhealthy = "unhealthy"
)

// Health summarises backend reachability for probes.
type Health struct {
	Status    string            `json:"status"`
	Mode      Mode              `json:"mode"`
	Documents int               `json:"documents"`
	Backends  map[string]string `json:"backends,omitempty"`
}
