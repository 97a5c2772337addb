package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProviderErrorKind classifies an adapter-level failure into the closed set
// from the adapter layer.
type ProviderErrorKind string

const (
	// ProviderErrorKindClient covers 4xx/transport failures the Model
	// layer treats as non-retriable (the caller's request is malformed).
	ProviderErrorKindClient ProviderErrorKind = "inference_client"

	// ProviderErrorKindServer covers parse failures and >=500 responses;
	// the Model layer treats these as retriable/failover-eligible.
	ProviderErrorKindServer ProviderErrorKind = "inference_server"

	// ProviderErrorKindCredentials covers auth construction/refresh
	// failures.
	ProviderErrorKindCredentials ProviderErrorKind = "credentials"

	// ProviderErrorKindSerialization covers request bodies that could not
	// be serialized.
	ProviderErrorKindSerialization ProviderErrorKind = "serialization"
)

// ProviderError describes a failure surfaced by a provider adapter. It
// crosses the adapter -> model -> variant -> orchestrator boundary
// Propagation policy: "Adapter errors surface unchanged to the Model").
type ProviderError struct {
	Provider  string
	Operation string
	HTTP      int
	Kind      ProviderErrorKind
	Message   string

	RawRequest  json.RawMessage
	RawResponse json.RawMessage

	cause error
}

// NewProviderError constructs a ProviderError. Provider and Kind are
// required.
func NewProviderError(provider, operation string, httpStatus int, kind ProviderErrorKind, message string, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		HTTP:      httpStatus,
		Kind:      kind,
		Message:   message,
		cause:     cause,
	}
}

func (e *ProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.HTTP > 0 {
		status = fmt.Sprintf("%d ", e.HTTP)
	}
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.Provider, e.Kind, status, op, msg)
}

// Unwrap preserves the original error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// Retryable reports whether the Model layer should try the next provider in
// its routing list: a provider is "exhausted" on a
// server-class error; client-class errors stop the fallback chain
// immediately because the request itself is malformed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderErrorKindServer
}

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrRateLimited indicates a 429/throttling response. Adapters wrap it
// around a ProviderErrorKindClient ProviderError.
var ErrRateLimited = errors.New("model: rate limited")
