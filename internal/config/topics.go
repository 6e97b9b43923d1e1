package config

const (
	// DefaultQueryChannel is the request/response channel for chat questions.
	DefaultQueryChannel = "rag-chat-query"

	// DefaultSourceQueue is the work queue carrying source URIs to ingest.
	DefaultSourceQueue = "rag-sources-queue"

	// SourceStream is the JetStream stream backing the source queue.
	SourceStream = "RAG_SOURCES"
)
