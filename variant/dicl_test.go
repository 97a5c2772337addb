package variant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

type stubExemplarStore struct {
	exemplars []Exemplar
	err       error
	gotQuery  []float32
}

func (s *stubExemplarStore) NearestExemplars(ctx context.Context, functionName string, vector []float32, k int) ([]Exemplar, error) {
	s.gotQuery = vector
	if s.err != nil {
		return nil, s.err
	}
	return s.exemplars, nil
}

func TestDICLPrependsExemplars(t *testing.T) {
	caller := &fakeCaller{inferResp: &model.ProviderInferenceResponse{Output: textOutput("ok")}}
	models := &fakeModels{callers: map[string]ModelCaller{"gpt": caller}}

	store := &stubExemplarStore{exemplars: []Exemplar{{Input: "q1", Output: "a1"}}}
	d := &DICL{
		Chat:          &ChatCompletion{Name: "dicl", ModelName: "gpt"},
		Embedder:      &stubEmbedder{vector: []float32{0.1, 0.2}},
		ExemplarStore: store,
		K:             3,
	}

	in := &Input{Messages: []Message{{Role: RoleUser, Content: []ContentBlock{Text{Text: "question"}}}}}
	_, err := d.Infer(context.Background(), in, models, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Len(t, caller.inferReq.Messages, 3)
	require.Equal(t, []float32{0.1, 0.2}, store.gotQuery)
}

func TestDICLWithoutCollaboratorsPassesThrough(t *testing.T) {
	caller := &fakeCaller{inferResp: &model.ProviderInferenceResponse{Output: textOutput("ok")}}
	models := &fakeModels{callers: map[string]ModelCaller{"gpt": caller}}

	d := &DICL{Chat: &ChatCompletion{Name: "dicl", ModelName: "gpt"}}
	in := &Input{Messages: []Message{{Role: RoleUser, Content: []ContentBlock{Text{Text: "question"}}}}}

	_, err := d.Infer(context.Background(), in, models, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Len(t, caller.inferReq.Messages, 1)
}

func TestDICLNoExemplarsFound(t *testing.T) {
	caller := &fakeCaller{inferResp: &model.ProviderInferenceResponse{Output: textOutput("ok")}}
	models := &fakeModels{callers: map[string]ModelCaller{"gpt": caller}}

	d := &DICL{
		Chat:          &ChatCompletion{Name: "dicl", ModelName: "gpt"},
		Embedder:      &stubEmbedder{vector: []float32{1}},
		ExemplarStore: &stubExemplarStore{},
	}
	in := &Input{Messages: []Message{{Role: RoleUser, Content: []ContentBlock{Text{Text: "q"}}}}}

	_, err := d.Infer(context.Background(), in, models, model.NoneCredentials{}, Params{})
	require.NoError(t, err)
	require.Len(t, caller.inferReq.Messages, 1)
}
