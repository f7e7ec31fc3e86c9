package domain

import "errors"

// Domain errors - used across all layers.
// Callers wrap them with the underlying cause ("%w: %w") so both the kind
// and the cause stay matchable with errors.Is.
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates there is no authenticated user
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the document belongs to another owner
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidTransition indicates an illegal ingestion status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrIngestion indicates fetching, parsing, embedding or indexing a document failed.
	// It is recorded on the document rather than returned to the uploader.
	ErrIngestion = errors.New("ingestion failed")

	// ErrStorage indicates the source file could not be fetched
	ErrStorage = errors.New("file storage error")

	// ErrEmbedding indicates the embedding service failed or got empty input
	ErrEmbedding = errors.New("embedding service error")

	// ErrIndexWrite indicates the vector index rejected or could not receive a write
	ErrIndexWrite = errors.New("vector index write failed")

	// ErrRetrieval indicates context retrieval failed while answering
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration indicates the language model failed before or during streaming
	ErrGeneration = errors.New("generation failed")

	// ErrStreamClosed indicates the consumer closed an answer before it finished
	ErrStreamClosed = errors.New("answer stream closed")

	// ErrServiceUnavailable indicates a backing service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)
