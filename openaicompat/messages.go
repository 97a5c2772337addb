package openaicompat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tensorzero/tensorzero-sub009/variant"
)

// translateMessages implements the system/tool-message normalization rules:
// leading system messages are concatenated, a stray later system message is
// relocated to the front with a warning, and tool-role messages are
// rewritten into ToolResult content carried on a user turn.
func translateMessages(msgs []ChatMessage, warnings *[]string) (*variant.Input, error) {
	var systemParts []string
	var relocated bool

	toolCallNames := map[string]string{} // tool_call_id -> tool name
	var turns []variant.Message

	for i, m := range msgs {
		switch m.Role {
		case "system":
			text, err := systemText(m.Content)
			if err != nil {
				return nil, err
			}
			leading := true
			for _, prev := range msgs[:i] {
				if prev.Role != "system" {
					leading = false
					break
				}
			}
			if !leading {
				relocated = true
			}
			systemParts = append(systemParts, text)

		case "assistant":
			blocks, err := translateContent(m.Content)
			if err != nil {
				return nil, err
			}
			for _, tc := range m.ToolCalls {
				toolCallNames[tc.ID] = tc.Function.Name
				blocks = append(blocks, variant.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			turns = append(turns, variant.Message{Role: variant.RoleAssistant, Content: blocks})

		case "tool":
			name, ok := toolCallNames[m.ToolCallID]
			if !ok {
				return nil, invalidRequest("tool message references unknown tool_call_id %q", m.ToolCallID)
			}
			result, err := systemText(m.Content)
			if err != nil {
				return nil, err
			}
			turns = append(turns, variant.Message{
				Role: variant.RoleUser,
				Content: []variant.ContentBlock{
					variant.ToolResult{ID: m.ToolCallID, Name: name, Result: result},
				},
			})

		case "user":
			blocks, err := translateContent(m.Content)
			if err != nil {
				return nil, err
			}
			turns = append(turns, variant.Message{Role: variant.RoleUser, Content: blocks})

		default:
			return nil, invalidRequest("unrecognized message role %q", m.Role)
		}
	}

	if relocated {
		*warnings = append(*warnings, "a non-leading system message was relocated to the front of the conversation")
	}

	input := &variant.Input{Messages: turns}
	if len(systemParts) > 0 {
		b, err := json.Marshal(strings.Join(systemParts, "\n"))
		if err != nil {
			return nil, fmt.Errorf("openaicompat: marshaling system content: %w", err)
		}
		input.System = b
	}
	return input, nil
}

// systemText extracts plain text from a content field that OpenAI allows to
// be either a bare string or a content-block array; used for system and
// tool messages, which are always text-only.
func systemText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []ContentBlockWire
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", invalidRequest("message content must be a string or a content-block array: %s", err)
	}
	var parts []string
	for _, b := range blocks {
		if b.Type != "text" {
			return "", invalidRequest("system/tool message content block must be text, got %q", b.Type)
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, ""), nil
}

// translateContent converts a user/assistant message's content field,
// string or content-block array, into the variant-layer content blocks.
func translateContent(raw json.RawMessage) ([]variant.ContentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []variant.ContentBlock{variant.Text{Text: s}}, nil
	}
	var wire []ContentBlockWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, invalidRequest("message content must be a string or a content-block array: %s", err)
	}
	blocks := make([]variant.ContentBlock, 0, len(wire))
	for _, b := range wire {
		block, err := translateContentBlock(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func translateContentBlock(b ContentBlockWire) (variant.ContentBlock, error) {
	switch b.Type {
	case "text":
		if len(b.Arguments) > 0 {
			return variant.Text{Arguments: b.Arguments}, nil
		}
		return variant.Text{Text: b.Text}, nil
	case "image_url":
		if b.ImageURL == nil {
			return nil, invalidRequest("image_url content block missing image_url")
		}
		if mime, data, ok := parseDataURL(b.ImageURL.URL); ok {
			return variant.File{Base64Data: data, MIMEType: mime}, nil
		}
		return variant.File{URL: b.ImageURL.URL}, nil
	default:
		return nil, invalidRequest("unrecognized content block type %q", b.Type)
	}
}

// parseDataURL extracts the mime type and base64 payload from a
// "data:<mime>;base64,<data>" URL. ok is false for any other URL, which
// callers then treat as a remotely fetchable File.URL.
func parseDataURL(url string) (mime, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, prefix)
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	header, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(header, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(header, ";base64"), payload, true
}
