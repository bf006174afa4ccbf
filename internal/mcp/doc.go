// Package mcp exposes the RAG pipeline as Model Context Protocol tools over
// stdio.
//
// Tools:
//   - rag_query answers a question from the ingested corpus
//   - rag_ingest chunks, embeds and stores files or a directory
//   - rag_stats reports document count and model names
//   - rag_reset empties the vector store
//
// Stdout carries the protocol, so loggers handed to this package must write
// to stderr.
package mcp
