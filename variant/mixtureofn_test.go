package variant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

func TestMixtureOfNSingleCandidateSkipsFuser(t *testing.T) {
	m := &MixtureOfN{
		Name:       "mon",
		Candidates: []Strategy{&stubStrategy{output: text("solo"), name: "c0"}},
		Fuser:      &stubStrategy{output: text("fused")},
	}

	res, err := m.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Equal(t, "solo", *res.Output[0].Text)
}

func TestMixtureOfNFusesMultipleCandidates(t *testing.T) {
	m := &MixtureOfN{
		Name: "mon",
		Candidates: []Strategy{
			&stubStrategy{output: text("a"), name: "c0"},
			&stubStrategy{output: text("b"), name: "c1"},
		},
		Fuser: &stubStrategy{output: text("fused"), name: "fuser"},
	}

	res, err := m.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Equal(t, "fused", *res.Output[0].Text)
	require.Equal(t, "mon", res.VariantName)
}

func TestMixtureOfNFallsBackOnFuserFailure(t *testing.T) {
	m := &MixtureOfN{
		Name: "mon",
		Candidates: []Strategy{
			&stubStrategy{output: text("a"), name: "c0"},
			&stubStrategy{output: text("b"), name: "c1"},
		},
		Fuser: &stubStrategy{err: errors.New("fuser down")},
	}

	res, err := m.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Contains(t, []string{"a", "b"}, *res.Output[0].Text)
}

func TestMixtureOfNInferStreamReplaysFusedOutput(t *testing.T) {
	m := &MixtureOfN{
		Name:       "mon",
		Candidates: []Strategy{&stubStrategy{output: text("solo"), name: "c0"}},
	}

	var chunks int
	res, err := m.InferStream(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{}, func(model.ProviderInferenceResponseChunk) error {
		chunks++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "solo", *res.Output[0].Text)
	require.Greater(t, chunks, 0)
}
