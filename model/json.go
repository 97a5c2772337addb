// Custom JSON codecs for Message, preserving concrete Part types across a
// round trip via an explicit "kind" discriminator field rather than
// reflection over the Part interface.
package model

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Message while preserving the concrete Part types
// stored in Parts via an explicit Kind discriminator.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role  ConversationRole `json:"role"`
		Parts []any            `json:"parts"`
	}
	if len(m.Parts) == 0 {
		return json.Marshal(alias{Role: m.Role})
	}
	parts := make([]any, 0, len(m.Parts))
	for i, p := range m.Parts {
		enc, err := encodeMessagePart(p)
		if err != nil {
			return nil, fmt.Errorf("encode parts[%d]: %w", i, err)
		}
		parts = append(parts, enc)
	}
	return json.Marshal(alias{Role: m.Role, Parts: parts})
}

// UnmarshalJSON decodes a Message, materializing concrete Part
// implementations from the Kind discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role  ConversationRole  `json:"role"`
		Parts []json.RawMessage `json:"parts"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	if len(tmp.Parts) == 0 {
		m.Parts = nil
		return nil
	}
	m.Parts = make([]Part, 0, len(tmp.Parts))
	for i, raw := range tmp.Parts {
		part, err := decodeMessagePart(raw)
		if err != nil {
			return fmt.Errorf("decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func encodeMessagePart(p Part) (any, error) {
	switch v := p.(type) {
	case TextPart:
		return struct {
			Kind      string          `json:"kind"`
			Text      string          `json:"text,omitempty"`
			Arguments json.RawMessage `json:"arguments,omitempty"`
		}{Kind: "text", Text: v.Text, Arguments: v.Arguments}, nil
	case RawTextPart:
		return struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		}{Kind: "raw_text", Text: v.Text}, nil
	case ToolCallPart:
		return struct {
			Kind      string `json:"kind"`
			ID        string `json:"id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}{Kind: "tool_call", ID: v.ID, Name: v.Name, Arguments: v.Arguments}, nil
	case ToolResultPart:
		return struct {
			Kind   string `json:"kind"`
			ID     string `json:"id"`
			Name   string `json:"name,omitempty"`
			Result string `json:"result"`
		}{Kind: "tool_result", ID: v.ID, Name: v.Name, Result: v.Result}, nil
	case FilePart:
		return struct {
			Kind             string `json:"kind"`
			Source           string `json:"source"`
			MIMEType         string `json:"mime_type,omitempty"`
			URL              string `json:"url,omitempty"`
			Base64Data       string `json:"base64_data,omitempty"`
			ObjectStorageRef string `json:"object_storage_ref,omitempty"`
		}{
			Kind:             "file",
			Source:           string(v.Source),
			MIMEType:         v.MIMEType,
			URL:              v.URL,
			Base64Data:       v.Base64Data,
			ObjectStorageRef: v.ObjectStorageRef,
		}, nil
	default:
		return nil, fmt.Errorf("model: unknown part type %T", p)
	}
}

func decodeMessagePart(raw json.RawMessage) (Part, error) {
	var disc struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}
	switch disc.Kind {
	case "text":
		var v struct {
			Text      string          `json:"text"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return TextPart{Text: v.Text, Arguments: v.Arguments}, nil
	case "raw_text":
		var v struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return RawTextPart{Text: v.Text}, nil
	case "tool_call":
		var v struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ToolCallPart{ID: v.ID, Name: v.Name, Arguments: v.Arguments}, nil
	case "tool_result":
		var v struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Result string `json:"result"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return ToolResultPart{ID: v.ID, Name: v.Name, Result: v.Result}, nil
	case "file":
		var v struct {
			Source           string `json:"source"`
			MIMEType         string `json:"mime_type"`
			URL              string `json:"url"`
			Base64Data       string `json:"base64_data"`
			ObjectStorageRef string `json:"object_storage_ref"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return FilePart{
			Source:           FileSource(v.Source),
			MIMEType:         v.MIMEType,
			URL:              v.URL,
			Base64Data:       v.Base64Data,
			ObjectStorageRef: v.ObjectStorageRef,
		}, nil
	default:
		return nil, fmt.Errorf("model: unknown part kind %q", disc.Kind)
	}
}
