package gwhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tensorzero/tensorzero-sub009/orchestrator"
)

// errorBody is the JSON error shape returned by every endpoint, per the
// taxonomy in orchestrator.Kind.
type errorBody struct {
	Error     string    `json:"error"`
	ErrorJSON errorJSON `json:"error_json"`
}

type errorJSON struct {
	Kind   orchestrator.Kind `json:"kind"`
	Detail any               `json:"detail,omitempty"`
}

// asGatewayError classifies any error into an *orchestrator.Error,
// defaulting unrecognized errors to KindInternalError so a handler never
// has to hand-classify a bare error.
func asGatewayError(err error) *orchestrator.Error {
	var oerr *orchestrator.Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return &orchestrator.Error{Kind: orchestrator.KindInternalError, Message: err.Error()}
}

// writeError writes the taxonomy-mapped JSON error response for err.
func writeError(w http.ResponseWriter, err error) {
	oerr := asGatewayError(err)
	body := errorBody{Error: oerr.Message, ErrorJSON: errorJSON{Kind: oerr.Kind, Detail: oerr.Detail}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

// writeStreamError emits a mid-stream error as an SSE event per spec: the
// connection is not closed on the gateway's own initiative, only by
// whatever closed the underlying cause.
func writeStreamError(w http.ResponseWriter, flusher http.Flusher, err error) {
	oerr := asGatewayError(err)
	body := errorBody{Error: oerr.Message, ErrorJSON: errorJSON{Kind: oerr.Kind, Detail: oerr.Detail}}
	enc, encErr := json.Marshal(body)
	if encErr != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(enc)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
