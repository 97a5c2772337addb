package toolcoerce

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

func TestSanitizeOutputSchemaIdempotent(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"$schema": "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"properties": {
			"nested": {"type": "object", "additionalProperties": false, "properties": {"x": {"type": "string"}}}
		}
	}`)

	once, err := SanitizeOutputSchema(schema)
	require.NoError(t, err)
	twice, err := SanitizeOutputSchema(once)
	require.NoError(t, err)

	require.JSONEq(t, string(once), string(twice))
	require.NotContains(t, string(once), "additionalProperties")
	require.NotContains(t, string(once), "$schema")
}

func TestCoerceToolModeForcesSpecificWhenSupported(t *testing.T) {
	req := &model.Request{
		JSONMode:     model.JSONModeTool,
		Model:        "gemini-1.5-pro",
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	}
	caps := VendorCapabilities{
		SupportsForcedToolChoice: func(string) bool { return true },
	}
	plan, err := Coerce(req, caps)
	require.NoError(t, err)
	require.NotNil(t, plan.ImplicitTool)
	require.Equal(t, model.ToolChoiceModeSpecific, plan.EffectiveToolChoice.Mode)
	require.Equal(t, plan.ImplicitTool.Name, plan.EffectiveToolChoice.Name)
}

func TestCoerceToolModeDowngradesWhenUnsupported(t *testing.T) {
	req := &model.Request{
		JSONMode:     model.JSONModeTool,
		Model:        "gemini-1.0-pro",
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	}
	caps := VendorCapabilities{
		SupportsForcedToolChoice: func(string) bool { return false },
	}
	plan, err := Coerce(req, caps)
	require.NoError(t, err)
	require.Equal(t, model.ToolChoiceModeAuto, plan.EffectiveToolChoice.Mode)
}

func TestCoerceStrictFallsBackToOnWhenUnsupported(t *testing.T) {
	req := &model.Request{
		JSONMode:     model.JSONModeStrict,
		Model:        "claude-3-haiku",
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	}
	caps := VendorCapabilities{
		SupportsStrictJSONMode: func(string) bool { return false },
		SupportsJSONSchema:     func(string) bool { return true },
	}
	plan, err := Coerce(req, caps)
	require.NoError(t, err)
	require.True(t, plan.SendJSONMode)
	require.True(t, plan.SendOutputSchema)
}

func TestCoerceRequiredToolChoiceDowngrade(t *testing.T) {
	req := &model.Request{
		ToolConfig: &model.ToolConfig{
			ToolChoice: model.ToolChoice{Mode: model.ToolChoiceModeRequired},
		},
	}
	caps := VendorCapabilities{
		SupportsForcedToolChoice: func(string) bool { return false },
	}
	plan, err := Coerce(req, caps)
	require.NoError(t, err)
	require.Equal(t, model.ToolChoiceModeAuto, plan.EffectiveToolChoice.Mode)
}
