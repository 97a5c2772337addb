package gwhttp

import (
	"encoding/json"
	"net/http"

	"github.com/tensorzero/tensorzero-sub009/orchestrator"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// handleInference serves POST /inference, the neutral API described by the
// gateway's own data model.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	var wire inferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindInvalidRequest, Message: "malformed request body: " + err.Error()})
		return
	}

	req, err := translateRequest(&wire)
	if err != nil {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindInvalidRequest, Message: err.Error()})
		return
	}
	creds, err := s.credentials()(r, wire.Credentials)
	if err != nil {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindUnauthorized, Message: err.Error()})
		return
	}
	req.Credentials = creds

	if wire.Stream {
		s.streamInference(w, r, req)
		return
	}

	resp, err := s.Gateway.Infer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := translateResponse(resp)
	if err != nil {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindInternalError, Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) streamInference(w http.ResponseWriter, r *http.Request, req *orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, &orchestrator.Error{Kind: orchestrator.KindInternalError, Message: "response writer does not support streaming"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(chunk variant.StreamChunk) error {
		enc, err := json.Marshal(translateChunk(chunk))
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

// handleBatchInference stubs POST /batch_inference: batch inference is
// out of core scope, mentioned here only for endpoint completeness.
func (s *Server) handleBatchInference(w http.ResponseWriter, r *http.Request) {
	writeError(w, &orchestrator.Error{Kind: orchestrator.KindInvalidRequest, Message: "batch inference is not implemented by this gateway"})
}
