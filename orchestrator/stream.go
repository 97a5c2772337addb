package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/tensorzero/tensorzero-sub009/variant"
)

// InferStream runs the streaming inference request path: identical to
// Infer's steps 1-7, except the per-variant timeout bounds only the wait
// for the first chunk (TTFT), not the whole stream, and step 8's
// persisted row additionally carries the measured TTFT.
func (g *Gateway) InferStream(ctx context.Context, req *Request, send variant.Sender) (*Response, error) {
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
	var ttft time.Duration
	perVariantErrs := map[string]string{}

	dispatchErr := g.Dispatcher.Dispatch(ctx, functionName, episodeID, req.VariantName,
		func(strategy variant.Strategy, name string) error {
			vc := fn.Variants[name]
			ttftCtx, tracker, cancel := withTTFTTimeout(ctx, vc.TTFTTimeout)
			defer cancel()

			callStart := time.Now()
			res, err := strategy.InferStream(ttftCtx, &req.Input, g.Models, req.Credentials, params, tracker.apply(send))
			if err != nil {
				classified := classifyVariantError(ttftCtx, err)
				perVariantErrs[name] = classified.Error()
				return classified
			}
			ttft = tracker.elapsedToFirst(callStart)
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
		g.Metrics.RecordTimer("gateway.infer_stream.duration", processingTime, "function", functionName, "variant", pickedVariant)
		g.Metrics.RecordTimer("gateway.infer_stream.ttft", ttft, "function", functionName, "variant", pickedVariant)
	}

	if !req.Dryrun {
		task := g.persist(ctx, req, resp, result, processingTime, &ttft)
		if req.AsyncWrites {
			<-task
		}
	}

	return resp, nil
}

// firstChunkTracker wraps a Sender so the TTFT timeout context is
// canceled-off (by stopping its timer) the moment the first chunk is
// observed, per spec: the TTFT timeout wraps only the first-chunk peek,
// never the rest of the stream.
type firstChunkTracker struct {
	mu       sync.Mutex
	stopTTFT func()
	seen     bool
	firstAt  time.Time
}

func withTTFTTimeout(ctx context.Context, d time.Duration) (context.Context, *firstChunkTracker, context.CancelFunc) {
	child, cancel := context.WithCancel(ctx)
	tracker := &firstChunkTracker{}
	if d <= 0 {
		tracker.stopTTFT = func() {}
		return child, tracker, cancel
	}
	timer := time.AfterFunc(d, cancel)
	tracker.stopTTFT = func() { timer.Stop() }
	return child, tracker, cancel
}

func (f *firstChunkTracker) apply(send variant.Sender) variant.Sender {
	return func(chunk variant.StreamChunk) error {
		f.mu.Lock()
		if !f.seen {
			f.seen = true
			f.firstAt = time.Now()
			f.stopTTFT()
		}
		f.mu.Unlock()
		return send(chunk)
	}
}

func (f *firstChunkTracker) elapsedToFirst(start time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.firstAt.IsZero() {
		return 0
	}
	return f.firstAt.Sub(start)
}
