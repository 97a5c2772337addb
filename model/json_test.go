package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripPreservesParts(t *testing.T) {
	orig := Message{
		Role: RoleAssistant,
		Parts: []Part{
			TextPart{Text: "hello"},
			ToolCallPart{ID: "tc_1", Name: "get_temperature", Arguments: `{"city":"Tokyo"}`},
		},
	}

	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, orig, got)
}

func TestToolResultRoundTrip(t *testing.T) {
	orig := Message{
		Role: RoleUser,
		Parts: []Part{
			ToolResultPart{ID: "tc_1", Name: "get_temperature", Result: "70"},
		},
	}
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, orig, got)
}

func TestDecodeMessagePartUnknownKind(t *testing.T) {
	_, err := decodeMessagePart([]byte(`{"kind":"bogus"}`))
	require.Error(t, err)
}

func TestFilePartRoundTrip(t *testing.T) {
	orig := Message{
		Role: RoleUser,
		Parts: []Part{
			FilePart{Source: FileSourceBase64, MIMEType: "image/png", Base64Data: "aGVsbG8="},
		},
	}
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, orig, got)
}
