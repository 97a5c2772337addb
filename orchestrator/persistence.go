package orchestrator

import (
	"context"
	"time"

	"github.com/tensorzero/tensorzero-sub009/eventstore"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// persist spawns step 8's detached write-back task: it is not parented to
// the request context (a dropped client connection must not cancel the
// write), and its completion is signaled by closing the returned channel,
// which AsyncWrites=true callers await before returning.
func (g *Gateway) persist(ctx context.Context, req *Request, resp *Response, result *variant.InferenceResult, processingTime time.Duration, ttft *time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if g.Store == nil {
		close(done)
		return done
	}

	// Deliberately detached from ctx: persistence must survive a
	// cancelled request.
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		g.writeModelInferences(bgCtx, resp.InferenceID, result)
		g.writeInference(bgCtx, req, resp, result, processingTime, ttft)
	}()
	return done
}

func (g *Gateway) writeModelInferences(ctx context.Context, inferenceID string, result *variant.InferenceResult) {
	for _, mi := range result.ModelInferenceResults {
		row := &eventstore.ModelInferenceRow{
			InferenceID:  inferenceID,
			ModelName:    mi.ModelName,
			ProviderName: mi.ProviderName,
			RawRequest:   mi.RawRequest,
			RawResponse:  mi.RawResponse,
			Usage:        mi.Usage,
			LatencyMS:    mi.Latency,
			CreatedAt:    time.Now(),
		}
		if err := g.Store.WriteModelInference(ctx, row); err != nil && g.Logger != nil {
			g.Logger.Error(ctx, "failed to persist model inference", "inference_id", inferenceID, "error", err.Error())
		}
	}
}

func (g *Gateway) writeInference(ctx context.Context, req *Request, resp *Response, result *variant.InferenceResult, processingTime time.Duration, ttft *time.Duration) {
	row := &eventstore.InferenceRow{
		InferenceID:      resp.InferenceID,
		EpisodeID:        resp.EpisodeID,
		FunctionName:     resp.FunctionName,
		VariantName:      resp.VariantName,
		FunctionType:     resp.FunctionType,
		Input:            marshalForStorage(req.Input),
		Output:           marshalForStorage(result.Output),
		ProcessingTimeMS: processingTime.Milliseconds(),
		Tags:             req.Tags,
		Usage:            resp.Usage,
		Dryrun:           req.Dryrun,
		CreatedAt:        time.Now(),
	}
	if req.Params.ToolOverride != nil {
		row.ToolParams = marshalForStorage(req.Params.ToolOverride)
	}
	if ttft != nil {
		ms := ttft.Milliseconds()
		row.TTFTMS = &ms
	}
	if err := g.Store.WriteInference(ctx, row); err != nil && g.Logger != nil {
		g.Logger.Error(ctx, "failed to persist inference", "inference_id", resp.InferenceID, "error", err.Error())
	}
}
