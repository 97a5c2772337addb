package vertexgemini

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

func testServiceAccount(t *testing.T) *model.GCPServiceAccount {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
	return &model.GCPServiceAccount{
		ClientEmail:   "svc@project.iam.gserviceaccount.com",
		PrivateKeyID:  "key-1",
		PrivateKeyPEM: pemBytes,
	}
}

func textRequest() *model.Request {
	return &model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hello"}}},
		},
	}
}

func TestPrepareRequestBuildsUserContent(t *testing.T) {
	cl, err := New(Options{ProjectID: "proj", Location: "us-central1", Model: "gemini-1.5-pro-002"})
	require.NoError(t, err)

	modelID, body, err := cl.prepareRequest(textRequest())
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-pro-002", modelID)
	require.Len(t, body.Contents, 1)
	require.Equal(t, "user", body.Contents[0].Role)
	require.Equal(t, "hello", body.Contents[0].Parts[0].Text)
}

func TestTranslateResponseMapsTextAndUsage(t *testing.T) {
	resp, err := translateResponse(&generateContentResponse{
		Candidates:    []candidate{{Content: content{Parts: []part{{Text: "world"}}}, FinishReason: "STOP"}},
		UsageMetadata: usageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2},
	})
	require.NoError(t, err)
	require.Len(t, resp.Output, 1)
	require.Equal(t, "world", *resp.Output[0].Text)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.True(t, resp.Usage.Reported)
	require.Equal(t, 3, resp.Usage.InputTokens)
	require.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestToolCallArgumentsMustBeJSONObject(t *testing.T) {
	req := textRequest()
	req.Messages = append(req.Messages, model.Message{
		Role:  model.RoleAssistant,
		Parts: []model.Part{model.ToolCallPart{ID: "1", Name: "search", Arguments: `"not-an-object"`}},
	})

	cl, err := New(Options{ProjectID: "proj", Location: "us-central1", Model: "gemini-1.5-pro-002"})
	require.NoError(t, err)

	_, _, err = cl.prepareRequest(req)
	require.Error(t, err)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindClient, pe.Kind)
}

func TestForcedToolChoiceDowngradesOutsideAllowList(t *testing.T) {
	cl, err := New(Options{ProjectID: "proj", Location: "us-central1", Model: "gemini-1.5-flash-002"})
	require.NoError(t, err)

	req := textRequest()
	req.ToolConfig = &model.ToolConfig{
		Tools:      []model.Tool{{Name: "search", Parameters: json.RawMessage(`{"type":"object"}`)}},
		ToolChoice: model.ToolChoice{Mode: model.ToolChoiceModeRequired},
	}
	_, body, err := cl.prepareRequest(req)
	require.NoError(t, err)
	require.Equal(t, "AUTO", body.ToolConfig.FunctionCallingConfig.Mode)
}

func TestForcedToolChoiceHonoredInsideAllowList(t *testing.T) {
	cl, err := New(Options{ProjectID: "proj", Location: "us-central1", Model: "gemini-1.5-pro-002"})
	require.NoError(t, err)

	req := textRequest()
	req.ToolConfig = &model.ToolConfig{
		Tools:      []model.Tool{{Name: "search", Parameters: json.RawMessage(`{"type":"object"}`)}},
		ToolChoice: model.ToolChoice{Mode: model.ToolChoiceModeRequired},
	}
	_, body, err := cl.prepareRequest(req)
	require.NoError(t, err)
	require.Equal(t, "ANY", body.ToolConfig.FunctionCallingConfig.Mode)
}

func TestMintJWTSetsKidAndClaims(t *testing.T) {
	sa := testServiceAccount(t)
	token, exp, err := mintJWT(sa)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	require.Equal(t, "key-1", parsed.Header["kid"])
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	require.Equal(t, sa.ClientEmail, claims["iss"])
	require.Equal(t, sa.ClientEmail, claims["sub"])
}

func TestBearerTokenRequiresServiceAccount(t *testing.T) {
	cl, err := New(Options{ProjectID: "proj", Location: "us-central1", Model: "gemini-1.5-pro-002"})
	require.NoError(t, err)

	_, err = cl.bearerToken(model.ResolvedCredentials{Credentials: model.StaticCredentials{Bytes: []byte("not-a-service-account")}})
	require.Error(t, err)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindCredentials, pe.Kind)
}

func TestBearerTokenMintsAndCaches(t *testing.T) {
	cl, err := New(Options{ProjectID: "proj", Location: "us-central1", Model: "gemini-1.5-pro-002"})
	require.NoError(t, err)

	creds := model.ResolvedCredentials{Credentials: model.StaticCredentials{GCPServiceAccount: testServiceAccount(t)}}
	first, err := cl.bearerToken(creds)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := cl.bearerToken(creds)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
