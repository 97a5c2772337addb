package variant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type stubStrategy struct {
	output []model.ContentBlockOutput
	err    error
	name   string
}

func (s *stubStrategy) Infer(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params) (*InferenceResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &InferenceResult{
		Output:      s.output,
		VariantName: s.name,
		ModelInferenceResults: []ModelInferenceRecord{{ModelName: s.name}},
	}, nil
}

func (s *stubStrategy) InferStream(ctx context.Context, in *Input, models Models, creds model.ResolvedCredentials, params Params, send Sender) (*InferenceResult, error) {
	return s.Infer(ctx, in, models, creds, params)
}

func text(s string) []model.ContentBlockOutput {
	return []model.ContentBlockOutput{{Text: &s}}
}

func TestBestOfNSelectsJudgeChoice(t *testing.T) {
	judge := &stubStrategy{output: text("1"), name: "judge"}
	b := &BestOfN{
		Name: "bon",
		Candidates: []Strategy{
			&stubStrategy{output: text("a"), name: "c0"},
			&stubStrategy{output: text("b"), name: "c1"},
		},
		Judge: judge,
	}

	res, err := b.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Equal(t, "bon", res.VariantName)
	require.Equal(t, "b", *res.Output[0].Text)
	require.Len(t, res.ModelInferenceResults, 2)
}

func TestBestOfNFallsBackOnJudgeFailure(t *testing.T) {
	b := &BestOfN{
		Name: "bon",
		Candidates: []Strategy{
			&stubStrategy{output: text("only"), name: "c0"},
		},
		Judge: &stubStrategy{err: errors.New("judge down")},
	}

	res, err := b.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Equal(t, "only", *res.Output[0].Text)
}

func TestBestOfNAllCandidatesFailErrors(t *testing.T) {
	b := &BestOfN{
		Name: "bon",
		Candidates: []Strategy{
			&stubStrategy{err: errors.New("boom")},
			&stubStrategy{err: errors.New("boom")},
		},
	}

	_, err := b.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.Error(t, err)
}

func TestBestOfNWithoutJudgeReturnsSomeCandidate(t *testing.T) {
	b := &BestOfN{
		Name: "bon",
		Candidates: []Strategy{
			&stubStrategy{output: text("a"), name: "c0"},
		},
	}

	res, err := b.Infer(context.Background(), &Input{}, &fakeModels{}, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Equal(t, "a", *res.Output[0].Text)
}

func TestCandidateParamsScopesCacheKeyByIndex(t *testing.T) {
	p := candidateParams(Params{ExtraCacheKey: "base"}, 2)
	require.Equal(t, "base|candidate=2", p.ExtraCacheKey)
}
