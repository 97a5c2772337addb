// Package vertexgemini implements model.Adapter against the GCP Vertex AI
// Gemini generateContent REST endpoint, authenticating with a self-signed
// RS256 JWT minted from a service-account key rather than a vendor SDK.
package vertexgemini

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/toolcoerce"
)

// Options configures the Vertex Gemini adapter.
type Options struct {
	ProjectID string
	Location  string

	// Model is the concrete Gemini model identifier (e.g.
	// "gemini-1.5-pro-002") this adapter calls.
	Model string

	MaxTokens   int
	Temperature float64

	// Credentials must resolve to model.StaticCredentials with a populated
	// GCPServiceAccount, or model.SDKCredentials handled upstream; any other
	// kind fails at call time.
	Credentials model.Credentials

	HTTPClient *http.Client

	// ForcedToolChoiceModelPrefixes lists the model-name prefixes allowed to
	// receive a forced (Required/Specific) tool choice. Models outside this
	// list silently downgrade to Auto. Defaults to prefixes containing
	// "pro" if left nil.
	ForcedToolChoiceModelPrefixes []string

	// JSONSchemaModelPrefixes lists the model-name prefixes allowed to
	// receive response_schema alongside JSON mode. Defaults to prefixes
	// containing "pro" if left nil.
	JSONSchemaModelPrefixes []string
}

// Client implements model.Adapter on top of the Vertex AI REST API.
type Client struct {
	opts Options
	caps toolcoerce.VendorCapabilities

	httpClient *http.Client

	jwtMu      sync.Mutex
	jwtCache   map[string]*cachedToken
}

type cachedToken struct {
	value string
	exp   time.Time
}

// New constructs a Vertex Gemini adapter.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return nil, errors.New("vertexgemini: project id is required")
	}
	if strings.TrimSpace(opts.Location) == "" {
		return nil, errors.New("vertexgemini: location is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("vertexgemini: model identifier is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	forcedPrefixes := opts.ForcedToolChoiceModelPrefixes
	if forcedPrefixes == nil {
		forcedPrefixes = []string{"gemini-1.5-pro", "gemini-2.5-pro"}
	}
	schemaPrefixes := opts.JSONSchemaModelPrefixes
	if schemaPrefixes == nil {
		schemaPrefixes = []string{"gemini-1.5-pro", "gemini-2.5-pro"}
	}

	c := &Client{
		opts:       opts,
		httpClient: opts.HTTPClient,
		jwtCache:   make(map[string]*cachedToken),
	}
	c.caps = toolcoerce.VendorCapabilities{
		Name:                         "vertexgemini",
		SupportsJSONSchema:           hasPrefix(schemaPrefixes),
		SupportsStrictJSONMode:       func(string) bool { return false },
		SupportsForcedToolChoice:     hasPrefix(forcedPrefixes),
		RequiresAssistantJSONPriming: false,
		NoneOmitsToolsField:          false,
	}
	return c, nil
}

func hasPrefix(prefixes []string) func(string) bool {
	return func(modelID string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(modelID, p) {
				return true
			}
		}
		return false
	}
}

// Name identifies the adapter.
func (c *Client) Name() string { return "vertexgemini" }

func (c *Client) endpoint(modelID, action string) string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		c.opts.Location, c.opts.ProjectID, c.opts.Location, modelID, action)
}

// bearerToken mints (or returns a cached, still-valid) RS256 JWT for the
// resolved service account.
func (c *Client) bearerToken(creds model.ResolvedCredentials) (string, error) {
	sa, err := resolveServiceAccount(creds)
	if err != nil {
		return "", model.NewProviderError("vertexgemini", "auth", 0, model.ProviderErrorKindCredentials, err.Error(), err)
	}

	c.jwtMu.Lock()
	cached, ok := c.jwtCache[sa.ClientEmail]
	if ok && time.Now().Before(cached.exp.Add(-60*time.Second)) {
		tok := cached.value
		c.jwtMu.Unlock()
		return tok, nil
	}
	c.jwtMu.Unlock()

	tok, exp, err := mintJWT(sa)
	if err != nil {
		return "", model.NewProviderError("vertexgemini", "auth", 0, model.ProviderErrorKindCredentials, err.Error(), err)
	}

	c.jwtMu.Lock()
	c.jwtCache[sa.ClientEmail] = &cachedToken{value: tok, exp: exp}
	c.jwtMu.Unlock()
	return tok, nil
}

func resolveServiceAccount(rc model.ResolvedCredentials) (*model.GCPServiceAccount, error) {
	sc, ok := rc.Credentials.(model.StaticCredentials)
	if !ok || sc.GCPServiceAccount == nil {
		return nil, errors.New("vertexgemini: credentials must carry a GCP service account")
	}
	sa := sc.GCPServiceAccount
	if sa.ClientEmail == "" || sa.PrivateKeyID == "" || len(sa.PrivateKeyPEM) == 0 {
		return nil, errors.New("vertexgemini: service account is missing client_email, private_key_id, or private_key")
	}
	return sa, nil
}

// mintJWT builds the claims {iss=sub=client_email, aud, iat=now,
// exp=now+1h}, signs RS256 with the service account's private key, and sets
// the kid header to private_key_id.
func mintJWT(sa *model.GCPServiceAccount) (string, time.Time, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(sa.PrivateKeyPEM)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("vertexgemini: parse service account private key: %w", err)
	}
	now := time.Now()
	exp := now.Add(time.Hour)
	aud := sa.TokenAudience
	if aud == "" {
		aud = "https://aiplatform.googleapis.com/"
	}
	claims := jwt.MapClaims{
		"iss": sa.ClientEmail,
		"sub": sa.ClientEmail,
		"aud": aud,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = sa.PrivateKeyID

	signed, err := signToken(token, key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("vertexgemini: sign jwt: %w", err)
	}
	return signed, exp, nil
}

func signToken(token *jwt.Token, key *rsa.PrivateKey) (string, error) {
	return token.SignedString(key)
}

// Infer issues a non-streaming generateContent request.
func (c *Client) Infer(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (*model.ProviderInferenceResponse, error) {
	token, err := c.bearerToken(creds)
	if err != nil {
		return nil, err
	}
	modelID, body, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, model.NewProviderError("vertexgemini", "generate_content", 0, model.ProviderErrorKindSerialization, err.Error(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(modelID, "generateContent"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, model.NewProviderError("vertexgemini", "generate_content", 0, model.ProviderErrorKindServer, err.Error(), err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewProviderError("vertexgemini", "generate_content", resp.StatusCode, model.ProviderErrorKindServer, err.Error(), err)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPError(resp.StatusCode, raw)
	}

	var wire generateContentResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, model.NewProviderError("vertexgemini", "generate_content", resp.StatusCode, model.ProviderErrorKindServer, err.Error(), err)
	}
	out, err := translateResponse(&wire)
	if err != nil {
		return nil, model.NewProviderError("vertexgemini", "generate_content", resp.StatusCode, model.ProviderErrorKindClient, err.Error(), err)
	}
	out.Latency = latency
	out.RawResponse = raw
	return out, nil
}

// InferStream issues a streamGenerateContent request over server-sent
// events and peeks the first chunk before returning.
func (c *Client) InferStream(ctx context.Context, req *model.Request, creds model.ResolvedCredentials) (model.Streamer, error) {
	token, err := c.bearerToken(creds)
	if err != nil {
		return nil, err
	}
	modelID, body, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, model.NewProviderError("vertexgemini", "stream_generate_content", 0, model.ProviderErrorKindSerialization, err.Error(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(modelID, "streamGenerateContent")+"?alt=sse", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, model.NewProviderError("vertexgemini", "stream_generate_content", 0, model.ProviderErrorKindServer, err.Error(), err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyHTTPError(resp.StatusCode, raw)
	}

	st := newStreamer(ctx, resp.Body)
	if err := st.peekFirst(); err != nil {
		return nil, err
	}
	return st, nil
}

func classifyHTTPError(status int, raw []byte) error {
	msg := string(raw)
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		msg = wrapped.Error.Message
	}
	switch status {
	case 429:
		return fmt.Errorf("%w: %w", model.ErrRateLimited, model.NewProviderError("vertexgemini", "generate_content", status, model.ProviderErrorKindClient, msg, nil))
	case 400, 401, 413:
		return model.NewProviderError("vertexgemini", "generate_content", status, model.ProviderErrorKindClient, msg, nil)
	default:
		return model.NewProviderError("vertexgemini", "generate_content", status, model.ProviderErrorKindServer, msg, nil)
	}
}

func (c *Client) prepareRequest(req *model.Request) (string, *generateContentRequest, error) {
	if len(req.Messages) == 0 {
		return "", nil, errors.New("vertexgemini: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.opts.Model
	}

	plan, err := toolcoerce.Coerce(req, c.caps)
	if err != nil {
		return "", nil, err
	}

	tools := req.ToolConfig
	if plan.ImplicitTool != nil {
		merged := model.ToolConfig{}
		if tools != nil {
			merged = *tools
		}
		merged.Tools = append(append([]model.Tool{}, merged.Tools...), *plan.ImplicitTool)
		merged.ToolChoice = plan.EffectiveToolChoice
		tools = &merged
	} else if tools != nil {
		overridden := *tools
		overridden.ToolChoice = plan.EffectiveToolChoice
		tools = &overridden
	}

	contents, err := encodeContents(req.Messages)
	if err != nil {
		return "", nil, err
	}

	body := &generateContentRequest{Contents: contents}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	gen := &generationConfig{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens > 0 {
		gen.MaxOutputTokens = maxTokens
	}
	if t := req.Temperature; t != nil {
		gen.Temperature = t
	} else if c.opts.Temperature > 0 {
		temp := c.opts.Temperature
		gen.Temperature = &temp
	}
	if req.TopP != nil {
		gen.TopP = req.TopP
	}
	if len(req.StopSequences) > 0 {
		gen.StopSequences = req.StopSequences
	}

	if plan.SendJSONMode {
		gen.ResponseMimeType = "application/json"
		if plan.SendOutputSchema && len(req.OutputSchema) > 0 {
			schema, err := toolcoerce.SanitizeOutputSchema(req.OutputSchema)
			if err != nil {
				return "", nil, err
			}
			var schemaMap map[string]any
			if err := json.Unmarshal(schema, &schemaMap); err != nil {
				return "", nil, fmt.Errorf("vertexgemini: output schema: %w", err)
			}
			gen.ResponseSchema = schemaMap
		}
	}
	body.GenerationConfig = gen

	if tools != nil && len(tools.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(tools.Tools))
		for _, t := range tools.Tools {
			var schema map[string]any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &schema); err != nil {
					return "", nil, fmt.Errorf("vertexgemini: tool %q schema: %w", t.Name, err)
				}
			}
			decls = append(decls, functionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema})
		}
		body.Tools = []toolDecl{{FunctionDeclarations: decls}}
		body.ToolConfig = encodeToolConfig(tools.ToolChoice)
	}

	return modelID, body, nil
}

func encodeToolConfig(choice model.ToolChoice) *toolConfigWire {
	switch choice.Mode {
	case model.ToolChoiceModeNone:
		return &toolConfigWire{FunctionCallingConfig: functionCallingConfig{Mode: "NONE"}}
	case model.ToolChoiceModeRequired:
		return &toolConfigWire{FunctionCallingConfig: functionCallingConfig{Mode: "ANY"}}
	case model.ToolChoiceModeSpecific:
		return &toolConfigWire{FunctionCallingConfig: functionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{choice.Name}}}
	default:
		return &toolConfigWire{FunctionCallingConfig: functionCallingConfig{Mode: "AUTO"}}
	}
}

func encodeContents(msgs []model.Message) ([]content, error) {
	out := make([]content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "model"
		}
		var parts []part
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				if v.Text != "" {
					parts = append(parts, part{Text: v.Text})
				}
			case model.RawTextPart:
				if v.Text != "" {
					parts = append(parts, part{Text: v.Text})
				}
			case model.ToolCallPart:
				var args map[string]any
				if v.Arguments != "" {
					var raw any
					if err := json.Unmarshal([]byte(v.Arguments), &raw); err != nil {
						return nil, fmt.Errorf("vertexgemini: tool call %q arguments are not valid JSON: %w", v.Name, err)
					}
					obj, ok := raw.(map[string]any)
					if !ok {
						return nil, model.NewProviderError("vertexgemini", "encode_tool_call", 400, model.ProviderErrorKindClient,
							fmt.Sprintf("tool call %q arguments must be a JSON object", v.Name), nil)
					}
					args = obj
				}
				parts = append(parts, part{FunctionCall: &functionCall{Name: v.Name, Args: args}})
			case model.ToolResultPart:
				var resultVal any
				if v.Result != "" {
					if err := json.Unmarshal([]byte(v.Result), &resultVal); err != nil {
						resultVal = v.Result
					}
				}
				parts = append(parts, part{FunctionResponse: &functionResponse{Name: v.Name, Response: map[string]any{"result": resultVal}}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, content{Role: role, Parts: parts})
	}
	if len(out) == 0 {
		return nil, errors.New("vertexgemini: at least one user/assistant message is required")
	}
	return out, nil
}

func translateResponse(resp *generateContentResponse) (*model.ProviderInferenceResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, errors.New("vertexgemini: response has no candidates")
	}
	cand := resp.Candidates[0]
	out := &model.ProviderInferenceResponse{}
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			text := p.Text
			out.Output = append(out.Output, model.ContentBlockOutput{Text: &text})
		}
		if p.FunctionCall != nil {
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.Output = append(out.Output, model.ContentBlockOutput{
				ToolCall: &model.ToolCallPart{Name: p.FunctionCall.Name, Arguments: string(args)},
			})
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		Reported:     resp.UsageMetadata.PromptTokenCount != 0 || resp.UsageMetadata.CandidatesTokenCount != 0,
	}
	out.FinishReason = mapFinishReason(cand.FinishReason, len(cand.functionCalls()) > 0)
	return out, nil
}

func mapFinishReason(reason string, hasToolCall bool) model.FinishReason {
	if hasToolCall {
		return model.FinishReasonToolCall
	}
	switch reason {
	case "STOP", "":
		return model.FinishReasonStop
	case "MAX_TOKENS":
		return model.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return model.FinishReasonContentFilter
	default:
		return model.FinishReasonUnknown
	}
}
