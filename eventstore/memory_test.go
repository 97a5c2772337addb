package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

func TestMemoryStoreRecordsModelAndInferenceRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.WriteModelInference(ctx, &ModelInferenceRow{
		InferenceID:  "inf-1",
		ModelName:    "gpt-4o",
		ProviderName: "openai",
		Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 5, Reported: true},
	}))
	require.NoError(t, s.WriteInference(ctx, &InferenceRow{
		InferenceID:  "inf-1",
		FunctionName: "greet",
		VariantName:  "v1",
		Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 5, Reported: true},
	}))

	require.Len(t, s.ModelInferences(), 1)
	require.Len(t, s.Inferences(), 1)

	row, ok := s.InferenceByID("inf-1")
	require.True(t, ok)
	require.Equal(t, "greet", row.FunctionName)
}

func TestMemoryStoreCachedUsageIsZeroedOnInferenceRowButRealOnModelRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// A cached provider call reports honest usage on the ModelInference
	// row, but the top-level InferenceRow served entirely from cache
	// reports a zero, unreported usage to the wire.
	require.NoError(t, s.WriteModelInference(ctx, &ModelInferenceRow{
		InferenceID: "inf-2",
		Usage:       model.TokenUsage{InputTokens: 42, OutputTokens: 7, Reported: true},
	}))
	require.NoError(t, s.WriteInference(ctx, &InferenceRow{
		InferenceID: "inf-2",
		Usage:       model.TokenUsage{},
	}))

	mi := s.ModelInferences()[0]
	require.True(t, mi.Usage.Reported)
	require.Equal(t, 42, mi.Usage.InputTokens)

	row, ok := s.InferenceByID("inf-2")
	require.True(t, ok)
	require.False(t, row.Usage.Reported)
	require.Zero(t, row.Usage.InputTokens)
}
