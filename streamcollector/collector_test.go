package streamcollector

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type fakeStreamer struct {
	chunks []model.ProviderInferenceResponseChunk
	pos    int
	err    error
}

func (f *fakeStreamer) Next(context.Context) (model.ProviderInferenceResponseChunk, error) {
	if f.pos >= len(f.chunks) {
		if f.err != nil {
			return model.ProviderInferenceResponseChunk{}, f.err
		}
		return model.ProviderInferenceResponseChunk{}, io.EOF
	}
	c := f.chunks[f.pos]
	f.pos++
	return c, nil
}

func (f *fakeStreamer) Close() error { return nil }

func finish(r model.FinishReason) *model.FinishReason { return &r }

func TestCollectConcatenatesTextPerBlock(t *testing.T) {
	st := &fakeStreamer{chunks: []model.ProviderInferenceResponseChunk{
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "Hel"}}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "lo"}}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "!"}}, FinishReason: finish(model.FinishReasonStop)},
	}}

	var relayed []model.ProviderInferenceResponseChunk
	resp, err := Collect(context.Background(), st, func(c model.ProviderInferenceResponseChunk) error {
		relayed = append(relayed, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, relayed, 3)
	require.Len(t, resp.Output, 1)
	require.Equal(t, "Hello!", *resp.Output[0].Text)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
}

func TestCollectMergesToolCallArgDeltas(t *testing.T) {
	st := &fakeStreamer{chunks: []model.ProviderInferenceResponseChunk{
		{Content: []model.ContentBlockChunk{{BlockID: "0", ToolCallID: "call_1", ToolCallName: "lookup", ToolCallArgDelta: `{"q":`}}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", ToolCallArgDelta: `"x"}`}}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", ToolCallFinal: true}}},
	}}

	resp, err := Collect(context.Background(), st, nil)
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)
	require.NotNil(t, resp.Output[0].ToolCall)
	require.Equal(t, "call_1", resp.Output[0].ToolCall.ID)
	require.Equal(t, "lookup", resp.Output[0].ToolCall.Name)
	require.Equal(t, `{"q":"x"}`, resp.Output[0].ToolCall.Arguments)
}

func TestCollectPrefersFinalArgumentsOverDeltas(t *testing.T) {
	st := &fakeStreamer{chunks: []model.ProviderInferenceResponseChunk{
		{Content: []model.ContentBlockChunk{{BlockID: "0", ToolCallID: "call_1", ToolCallArgDelta: `{"partial`}}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", ToolCallFinal: true, ToolCallArguments: `{"q":"final"}`}}},
	}}

	resp, err := Collect(context.Background(), st, nil)
	require.NoError(t, err)
	require.Equal(t, `{"q":"final"}`, resp.Output[0].ToolCall.Arguments)
}

func TestCollectSumsUsageAcrossChunks(t *testing.T) {
	st := &fakeStreamer{chunks: []model.ProviderInferenceResponseChunk{
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "a"}}, Usage: &model.TokenUsage{InputTokens: 10, OutputTokens: 1, Reported: true}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "b"}}, Usage: &model.TokenUsage{OutputTokens: 2, Reported: true}},
	}}

	resp, err := Collect(context.Background(), st, nil)
	require.NoError(t, err)
	require.True(t, resp.Usage.Reported)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestCollectSyntheticZeroUsageWhenNoneReported(t *testing.T) {
	st := &fakeStreamer{chunks: []model.ProviderInferenceResponseChunk{
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "a"}}},
	}}

	resp, err := Collect(context.Background(), st, nil)
	require.NoError(t, err)
	require.False(t, resp.Usage.Reported)
	require.Zero(t, resp.Usage.InputTokens)
}

func TestCollectPropagatesStreamError(t *testing.T) {
	boom := io.ErrUnexpectedEOF
	st := &fakeStreamer{err: boom}

	_, err := Collect(context.Background(), st, nil)
	require.ErrorIs(t, err, boom)
}

func TestCollectPropagatesSendError(t *testing.T) {
	st := &fakeStreamer{chunks: []model.ProviderInferenceResponseChunk{
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "a"}}},
		{Content: []model.ContentBlockChunk{{BlockID: "0", Text: "b"}}},
	}}

	boom := io.ErrClosedPipe
	calls := 0
	_, err := Collect(context.Background(), st, func(model.ProviderInferenceResponseChunk) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestSyntheticStreamReplaysUnaryAsChunks(t *testing.T) {
	text := "hi there"
	resp := &model.ProviderInferenceResponse{
		Output:       []model.ContentBlockOutput{{Text: &text}},
		Usage:        model.TokenUsage{InputTokens: 5, OutputTokens: 2, Reported: true},
		FinishReason: model.FinishReasonStop,
	}

	st := SyntheticStream(resp)
	var chunks []model.ProviderInferenceResponseChunk
	for {
		c, err := st.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 2)
	require.Equal(t, "hi there", chunks[0].Content[0].Text)
	require.NotNil(t, chunks[0].Usage)
	require.True(t, chunks[0].Usage.Reported)
	require.Nil(t, chunks[1].Content)
	require.NotNil(t, chunks[1].FinishReason)
	require.Equal(t, model.FinishReasonStop, *chunks[1].FinishReason)
}

func TestSyntheticStreamRoundTripsThroughCollect(t *testing.T) {
	text := "round trip"
	original := &model.ProviderInferenceResponse{
		Output:       []model.ContentBlockOutput{{Text: &text}},
		Usage:        model.TokenUsage{InputTokens: 3, OutputTokens: 4, Reported: true},
		FinishReason: model.FinishReasonStop,
	}

	st := SyntheticStream(original)
	collected, err := Collect(context.Background(), st, nil)
	require.NoError(t, err)
	require.Equal(t, "round trip", *collected.Output[0].Text)
	require.Equal(t, original.Usage, collected.Usage)
	require.Equal(t, original.FinishReason, collected.FinishReason)
}
