package rpc

import "github.com/fyrsmithlabs/ragpipe/internal/rag"

// Empty is the request of parameterless methods and the response of Reset.
type Empty struct{}

type EmbedQueryRequest struct {
	Text string `json:"text"`
}

type EmbedQueryResponse struct {
	Embedding []float32 `json:"embedding"`
}

type EmbedBatchRequest struct {
	Texts []string `json:"texts"`
}

type EmbedBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type EmbeddingInfo struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

type AddDocumentsRequest struct {
	Texts      []string            `json:"texts"`
	Embeddings [][]float32         `json:"embeddings"`
	Metadatas  []map[string]string `json:"metadatas"`
}

type AddDocumentsResponse struct {
	DocumentsAdded int `json:"documents_added"`
	TotalDocuments int `json:"total_documents"`
}

type SearchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	TopK           int       `json:"top_k"`
}

type SearchResponse struct {
	Documents []rag.Match `json:"documents"`
}

type CountResponse struct {
	Count int `json:"count"`
}

// VectorInfo reports the store's vector dimension, 0 while it is unset.
type VectorInfo struct {
	Dimension int `json:"dimension"`
	Count     int `json:"count"`
}

type GenerateRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type GenerationInfo struct {
	Model string `json:"model"`
}
