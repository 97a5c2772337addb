package gwhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/tensorzero-sub009/openaicompat"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// handleChatCompletions serves POST /openai/v1/chat/completions (C7),
// matching OpenAI's wire format at the field level for both unary and
// streaming calls.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var wire openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindInvalidOpenAICompatibleRequest, Message: "malformed request body: " + err.Error()})
		return
	}

	req, warnings, err := openaicompat.TranslateRequest(&wire)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, warning := range warnings {
		s.logger().Warn(r.Context(), "gwhttp: openai-compatible request warning", "warning", warning)
	}

	creds, err := s.credentials()(r, nil)
	if err != nil {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindUnauthorized, Message: err.Error()})
		return
	}
	req.Credentials = creds
	req.APIKeyPublicID = r.Header.Get("X-TensorZero-Api-Key-Public-Id")

	created := time.Now().Unix()

	if wire.Stream {
		s.streamChatCompletions(w, r, req, created)
		return
	}

	resp, err := s.Gateway.Infer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	out := openaicompat.TranslateResponse(resp, created)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) streamChatCompletions(w http.ResponseWriter, r *http.Request, req *orchestrator.Request, created int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindInternalError, Message: "response writer does not support streaming"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The orchestrator doesn't surface inference_id/variant_name until the
	// call completes, but every chunk needs to be stamped as it's sent;
	// the wire id is generated here instead of waiting for the final
	// response, and the function/variant names use what the request
	// already pinned (the variant actually picked is only known in the
	// completed Response, not per-chunk).
	functionName := req.FunctionName
	if functionName == "" {
		functionName = req.ModelName
	}
	translator := openaicompat.NewStreamTranslator(uuid.NewString(), functionName, req.VariantName, created)

	send := func(chunk variant.StreamChunk) error {
		out := translator.Translate(chunk)
		enc, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(enc); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	_, err := s.Gateway.InferStream(r.Context(), req, send)
	if err != nil {
		writeStreamError(w, flusher, err)
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
