package domain

import "errors"

var (
	// ErrInvalidRequest signals a malformed search request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownProvider signals a provider id that is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrProviderDisabled signals a provider without usable configuration.
	ErrProviderDisabled = errors.New("provider disabled")
	// ErrCircuitOpen signals a call rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrNoProviderAvailable signals that no fallback tier could run.
	ErrNoProviderAvailable = errors.New("no provider available")
	// ErrKeywordSearchNotSupported signals that the backend lacks keyword search.
	ErrKeywordSearchNotSupported = errors.New("keyword search not supported by backend")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)
