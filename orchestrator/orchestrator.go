// Package orchestrator implements the Inference Orchestrator (C6), the
// top-level request path that normalizes a caller's function/model
// reference, validates and dispatches to a variant, enforces the
// per-variant and TTFT timeouts, and persists the result once the response
// has been produced.
package orchestrator

import (
	"encoding/json"

	"github.com/tensorzero/tensorzero-sub009/eventstore"
	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// defaultFunctionName names the ephemeral single-variant function
// synthesized when a caller supplies model_name instead of function_name.
const defaultFunctionName = "tensorzero::default"

type (
	// Request is the neutral inference request accepted by both the
	// native HTTP surface and, after translation, the OpenAI-compatible
	// surface.
	Request struct {
		// Exactly one of FunctionName/ModelName is set; both set is a
		// request error.
		FunctionName string
		ModelName    string

		VariantName string // pinned variant, optional

		EpisodeID string // adopted if present, minted otherwise

		Input       variant.Input
		Params      variant.Params
		DynamicTools *variant.DynamicToolOverlay

		Tags           map[string]string
		APIKeyPublicID string
		Credentials    model.ResolvedCredentials

		Dryrun      bool
		AsyncWrites bool
	}

	// Response is the result of a completed inference.
	Response struct {
		InferenceID  string
		EpisodeID    string
		VariantName  string
		FunctionName string
		FunctionType model.FunctionType
		Output       []model.ContentBlockOutput
		Usage        model.TokenUsage
		FinishReason model.FinishReason
	}

	// Gateway wires together the function dispatcher, the model registry,
	// the persistence store, and telemetry to implement the inference
	// request path.
	Gateway struct {
		Dispatcher *function.Dispatcher
		Models     variant.Models
		Store      eventstore.Store

		Logger  gwtelemetry.Logger
		Metrics gwtelemetry.Metrics
		Tracer  gwtelemetry.Tracer

		IDGenerator func() (string, error)
	}
)

// marshalForStorage serializes v for persistence, returning "" (not an
// error) on failure so an observability hiccup never blocks the response
// path; the failure itself is not logged.
func marshalForStorage(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
