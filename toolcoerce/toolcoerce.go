// Package toolcoerce implements the cross-provider JSON-mode and tool-choice
// negotiation rules shared by every vendor adapter, expressed once instead
// of duplicated per package: vendor capability is a data table, not runtime
// type introspection.
package toolcoerce

import (
	"encoding/json"
	"fmt"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// VendorCapabilities is the static per-vendor capability table consulted by
// Coerce. Adapters build one instance at construction time and pass it on
// every call; tables are immutable after startup.
type VendorCapabilities struct {
	// Name identifies the vendor for error messages (e.g. "anthropic").
	Name string

	// SupportsJSONSchema reports whether the named model accepts a
	// response/output schema alongside JSON mode.
	SupportsJSONSchema func(modelID string) bool

	// SupportsStrictJSONMode reports whether the vendor honors "strict"
	// JSON mode (schema enforcement) for the named model.
	SupportsStrictJSONMode func(modelID string) bool

	// SupportsForcedToolChoice reports whether Required/Specific tool
	// choice is honored for the named model; when false, the coercer
	// downgrades to Auto rather than erroring (the lenient default).
	SupportsForcedToolChoice func(modelID string) bool

	// RequiresAssistantJSONPriming reports whether the vendor behaves
	// best with a trailing assistant prefill in JSON modes (Anthropic).
	RequiresAssistantJSONPriming bool

	// NoneOmitsToolsField reports whether ToolChoiceModeNone is realized
	// by omitting the tools field entirely (Anthropic) rather than
	// sending an explicit vendor "none" value.
	NoneOmitsToolsField bool
}

// JSONPrimingFragment is the assistant-prefill text providers that need it
// receive. The adapters return the response text as the provider sends
// it: the fragment is neither stripped from nor prepended to it.
const JSONPrimingFragment = "Here is the JSON requested:\n{"

// Plan is the resolved, vendor-specific strategy for satisfying a
// model.Request's JSONMode and ToolConfig.
type Plan struct {
	// SendJSONMode reports whether the vendor's JSON-mode flag should be
	// set on the outgoing request.
	SendJSONMode bool

	// SendOutputSchema reports whether the output schema should be
	// attached to the JSON-mode request.
	SendOutputSchema bool

	// ImplicitTool is set when JSONMode is JSONModeTool: a synthetic tool
	// whose parameter schema is the request's output schema, forced via
	// ToolChoiceModeSpecific.
	ImplicitTool *model.Tool

	// EffectiveToolChoice is the tool choice to send after downgrade
	// rules have been applied.
	EffectiveToolChoice model.ToolChoice

	// PrimeAssistantJSON reports whether the adapter should append the
	// JSONPrimingFragment as a trailing assistant message.
	PrimeAssistantJSON bool
}

const implicitToolName = "respond_in_schema"

// Coerce resolves a Plan for req against a vendor's capability table.
func Coerce(req *model.Request, caps VendorCapabilities) (Plan, error) {
	var plan Plan

	toolChoice := model.ToolChoice{Mode: model.ToolChoiceModeAuto}
	if req.ToolConfig != nil {
		toolChoice = req.ToolConfig.ToolChoice
	}

	switch req.JSONMode {
	case "", model.JSONModeOff:
		plan.EffectiveToolChoice = downgradeIfUnsupported(toolChoice, req.Model, caps)
		return plan, nil

	case model.JSONModeOn:
		plan.SendJSONMode = true
		plan.SendOutputSchema = len(req.OutputSchema) > 0 && caps.SupportsJSONSchema != nil && caps.SupportsJSONSchema(req.Model)
		plan.PrimeAssistantJSON = caps.RequiresAssistantJSONPriming
		plan.EffectiveToolChoice = downgradeIfUnsupported(toolChoice, req.Model, caps)
		return plan, nil

	case model.JSONModeStrict:
		plan.SendJSONMode = true
		strictOK := caps.SupportsStrictJSONMode != nil && caps.SupportsStrictJSONMode(req.Model)
		if !strictOK {
			// Fall back to "On": the vendor does not support strict mode.
			plan.SendOutputSchema = len(req.OutputSchema) > 0 && caps.SupportsJSONSchema != nil && caps.SupportsJSONSchema(req.Model)
			plan.PrimeAssistantJSON = caps.RequiresAssistantJSONPriming
			plan.EffectiveToolChoice = downgradeIfUnsupported(toolChoice, req.Model, caps)
			return plan, nil
		}
		if len(req.OutputSchema) == 0 {
			return Plan{}, fmt.Errorf("toolcoerce: strict json mode requires an output schema")
		}
		plan.SendOutputSchema = true
		plan.PrimeAssistantJSON = caps.RequiresAssistantJSONPriming
		plan.EffectiveToolChoice = downgradeIfUnsupported(toolChoice, req.Model, caps)
		return plan, nil

	case model.JSONModeTool:
		if len(req.OutputSchema) == 0 {
			return Plan{}, fmt.Errorf("toolcoerce: tool json mode requires an output schema")
		}
		tool := model.Tool{
			Name:       implicitToolName,
			Description: "Emit the final response matching the required output schema.",
			Parameters: req.OutputSchema,
			Strict:     true,
		}
		plan.ImplicitTool = &tool
		forced := model.ToolChoice{Mode: model.ToolChoiceModeSpecific, Name: tool.Name}
		if caps.SupportsForcedToolChoice != nil && caps.SupportsForcedToolChoice(req.Model) {
			plan.EffectiveToolChoice = forced
		} else {
			// Fall back to Auto and hope for the best.
			plan.EffectiveToolChoice = model.ToolChoice{Mode: model.ToolChoiceModeAuto}
		}
		return plan, nil

	default:
		return Plan{}, fmt.Errorf("toolcoerce: unsupported json mode %q", req.JSONMode)
	}
}

// downgradeIfUnsupported implements the silent Required/Specific -> Auto
// downgrade for vendors/models that cannot honor a forced tool choice.
// ToolChoiceModeNone is never downgraded: it is always realized, either by
// omitting the tools field (NoneOmitsToolsField) or by sending the vendor's
// explicit "none" value — that decision is left to the calling adapter.
func downgradeIfUnsupported(tc model.ToolChoice, modelID string, caps VendorCapabilities) model.ToolChoice {
	switch tc.Mode {
	case model.ToolChoiceModeRequired, model.ToolChoiceModeSpecific:
		if caps.SupportsForcedToolChoice != nil && caps.SupportsForcedToolChoice(modelID) {
			return tc
		}
		return model.ToolChoice{Mode: model.ToolChoiceModeAuto}
	default:
		return tc
	}
}

// SanitizeOutputSchema recursively strips additionalProperties and $schema
// keys from a JSON-schema document, required by vendors that reject them
// in response_schema payloads. Sanitization is idempotent:
// sanitize(sanitize(s)) == sanitize(s).
func SanitizeOutputSchema(schema json.RawMessage) (json.RawMessage, error) {
	if len(schema) == 0 {
		return schema, nil
	}
	var v any
	if err := json.Unmarshal(schema, &v); err != nil {
		return nil, fmt.Errorf("toolcoerce: sanitize output schema: %w", err)
	}
	sanitized := sanitizeValue(v)
	out, err := json.Marshal(sanitized)
	if err != nil {
		return nil, fmt.Errorf("toolcoerce: re-marshal sanitized schema: %w", err)
	}
	return out, nil
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			if k == "additionalProperties" || k == "$schema" {
				continue
			}
			out[k] = sanitizeValue(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = sanitizeValue(sub)
		}
		return out
	default:
		return val
	}
}
