package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// Infer runs the non-streaming inference request path end to end: steps
// 1-8 of the orchestrator's request lifecycle.
func (g *Gateway) Infer(ctx context.Context, req *Request) (*Response, error) {
	inferenceID, episodeID, err := g.mintIDs(req)
	if err != nil {
		return nil, newError(KindInternalError, "minting inference/episode id: %s", err)
	}

	ctx, span := g.startSpan(ctx, inferenceID, episodeID, req)
	defer span.End()

	fn, functionName, err := g.resolveFunction(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := fn.ValidateInput(&req.Input); err != nil {
		oerr := newError(KindInvalidRequest, "input validation failed: %s", err)
		span.RecordError(oerr)
		return nil, oerr
	}

	toolConfig := variant.MergeToolConfig(fn.StaticTools, req.DynamicTools)
	params := req.Params
	params.ToolOverride = &toolConfig

	start := time.Now()
	var result *variant.InferenceResult
	var pickedVariant string
	perVariantErrs := map[string]string{}

	dispatchErr := g.Dispatcher.Dispatch(ctx, functionName, episodeID, req.VariantName,
		func(strategy variant.Strategy, name string) error {
			vc := fn.Variants[name]
			callCtx, cancel := withVariantTimeout(ctx, vc.Timeout)
			defer cancel()

			res, err := strategy.Infer(callCtx, &req.Input, g.Models, req.Credentials, params)
			if err != nil {
				classified := classifyVariantError(callCtx, err)
				perVariantErrs[name] = classified.Error()
				return classified
			}
			result = res
			pickedVariant = name
			return nil
		})
	if dispatchErr != nil {
		oerr := classifyDispatchError(functionName, dispatchErr, perVariantErrs)
		span.RecordError(oerr)
		return nil, oerr
	}

	processingTime := time.Since(start)
	resp := &Response{
		InferenceID:  inferenceID,
		EpisodeID:    episodeID,
		VariantName:  pickedVariant,
		FunctionName: functionName,
		FunctionType: fn.Type,
		Output:       result.Output,
		Usage:        result.Usage,
		FinishReason: result.FinishReason,
	}

	if g.Metrics != nil {
		g.Metrics.RecordTimer("gateway.infer.duration", processingTime, "function", functionName, "variant", pickedVariant)
	}

	if !req.Dryrun {
		task := g.persist(ctx, req, resp, result, processingTime, nil)
		if req.AsyncWrites {
			<-task
		}
	}

	return resp, nil
}

func (g *Gateway) mintIDs(req *Request) (inferenceID, episodeID string, err error) {
	gen := g.IDGenerator
	if gen == nil {
		gen = newInferenceID
	}
	inferenceID, err = gen()
	if err != nil {
		return "", "", err
	}
	episodeID = req.EpisodeID
	if episodeID == "" {
		episodeID, err = gen()
		if err != nil {
			return "", "", err
		}
	}
	return inferenceID, episodeID, nil
}

func (g *Gateway) startSpan(ctx context.Context, inferenceID, episodeID string, req *Request) (context.Context, spanEnder) {
	if g.Tracer == nil {
		return ctx, noopSpanEnder{}
	}
	attrs := []attribute.KeyValue{
		attribute.String("inference_id", inferenceID),
		attribute.String("episode_id", episodeID),
	}
	if req.APIKeyPublicID != "" {
		attrs = append(attrs, attribute.String("api_key_public_id", req.APIKeyPublicID))
	}
	for k, v := range req.Tags {
		attrs = append(attrs, attribute.String("tag."+k, v))
	}
	return g.Tracer.Start(ctx, "gateway.infer", trace.WithAttributes(attrs...))
}

// spanEnder is the subset of gwtelemetry.Span this package touches
// directly, declared locally so a nil Tracer degrades to a no-op without
// requiring gwtelemetry itself to export one.
type spanEnder interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	RecordError(err error, opts ...trace.EventOption)
}

type noopSpanEnder struct{}

func (noopSpanEnder) End(...trace.SpanEndOption)      {}
func (noopSpanEnder) AddEvent(string, ...any)         {}
func (noopSpanEnder) RecordError(error, ...trace.EventOption) {}

func withVariantTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func classifyVariantError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return newError(KindInferenceTimeout, "%s", err)
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return newError(KindInferenceServer, "%s", err)
}

func classifyDispatchError(functionName string, err error, perVariantErrs map[string]string) *Error {
	var exhausted *function.ErrAllVariantsExhausted
	if errors.As(err, &exhausted) {
		return errAllVariantsExhausted(functionName, perVariantErrs)
	}
	var variantNotFound *function.ErrVariantNotFound
	if errors.As(err, &variantNotFound) {
		return newError(KindInvalidRequest, "%s", err)
	}
	var functionNotFound function.ErrFunctionNotFound
	if errors.As(err, &functionNotFound) {
		return newError(KindInvalidRequest, "%s", err)
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return newError(KindInternalError, "%s", err)
}
