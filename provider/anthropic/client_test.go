package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
}

type noopDecoder struct{}

func (n *noopDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (n *noopDecoder) Next() bool             { return false }
func (n *noopDecoder) Close() error           { return nil }
func (n *noopDecoder) Err() error             { return nil }

func newTestClient(t *testing.T, stub *stubMessagesClient) *Client {
	t.Helper()
	cl, err := New(Options{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 128,
		newMessagesClient: func(string) MessagesClient {
			return stub
		},
	})
	require.NoError(t, err)
	return cl
}

func textRequest() *model.Request {
	return &model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hello"}}},
		},
	}
}

func TestInferTextOnly(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "world"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl := newTestClient(t, stub)

	resp, err := cl.Infer(context.Background(), textRequest(), model.ResolvedCredentials{Credentials: model.StaticCredentials{Bytes: []byte("key")}})
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)
	require.Equal(t, "world", *resp.Output[0].Text)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.True(t, resp.Usage.Reported)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestInferToolUseRoundTripsCanonicalName(t *testing.T) {
	req := textRequest()
	req.ToolConfig = &model.ToolConfig{
		Tools: []model.Tool{{Name: "search.web", Description: "search the web", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}

	stub := &stubMessagesClient{}
	cl := newTestClient(t, stub)

	sanitized := sanitizeToolName("search.web")
	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", Name: sanitized, ID: "call-1", Input: json.RawMessage(`{"q":"go"}`)},
		},
		StopReason: sdk.StopReasonToolUse,
	}

	resp, err := cl.Infer(context.Background(), req, model.ResolvedCredentials{Credentials: model.StaticCredentials{Bytes: []byte("key")}})
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)
	require.NotNil(t, resp.Output[0].ToolCall)
	require.Equal(t, "search.web", resp.Output[0].ToolCall.Name)
	require.Equal(t, "call-1", resp.Output[0].ToolCall.ID)
	require.Equal(t, model.FinishReasonToolCall, resp.FinishReason)
}

func TestInferMissingAPIKeySurfacesCredentialsError(t *testing.T) {
	cl := newTestClient(t, &stubMessagesClient{})
	_, err := cl.Infer(context.Background(), textRequest(), model.ResolvedCredentials{Credentials: model.DynamicCredentials{KeyName: "anthropic"}})
	require.Error(t, err)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindCredentials, pe.Kind)
}

func TestInferRequiresMaxTokens(t *testing.T) {
	cl, err := New(Options{
		Model: "claude-sonnet-4-5-20250929",
		newMessagesClient: func(string) MessagesClient {
			return &stubMessagesClient{}
		},
	})
	require.NoError(t, err)
	_, err = cl.Infer(context.Background(), textRequest(), model.ResolvedCredentials{Credentials: model.StaticCredentials{Bytes: []byte("key")}})
	require.Error(t, err)
}

func TestSanitizeToolNameIsStableAndSafe(t *testing.T) {
	require.Equal(t, "search_web", sanitizeToolName("search.web"))
	require.True(t, isProviderSafeToolName(sanitizeToolName("search.web")))
	require.Equal(t, "already_safe", sanitizeToolName("already_safe"))
}
