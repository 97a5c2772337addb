package gwconfig

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/modelchain"
	"github.com/tensorzero/tensorzero-sub009/provider/anthropic"
	"github.com/tensorzero/tensorzero-sub009/provider/azureopenai"
	"github.com/tensorzero/tensorzero-sub009/provider/bedrock"
	"github.com/tensorzero/tensorzero-sub009/provider/openai"
	"github.com/tensorzero/tensorzero-sub009/provider/vertexgemini"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// ModelRegistry is a map-backed variant.Models built by Build.
type ModelRegistry map[string]variant.ModelCaller

// Model implements variant.Models.
func (r ModelRegistry) Model(name string) (variant.ModelCaller, bool) {
	m, ok := r[name]
	return m, ok
}

// BuildOptions carries the collaborators this module never constructs
// itself: a TemplateRenderer (without one, variants pass plain Text blocks
// through verbatim and reject a Text block that carries Arguments, or a
// configured SystemTemplate) and the embedding-model/exemplar-store
// pair a DICL variant calls out to, both documented in variant/dicl.go and
// variant/template.go as out of scope for this module.
type BuildOptions struct {
	Renderer      variant.TemplateRenderer
	Embedder      variant.Embedder
	ExemplarStore variant.ExemplarStore
}

// Build constructs the runtime object graph a config tree describes: a
// variant.Models resolving every models.<name> entry to a modelchain.Chain
// of provider adapters, and a function.Dispatcher resolving every
// functions.<name> entry to a Function whose variants reference that
// Models registry and each other (sub-variants, by name, within the same
// function) per the arena-index pattern.
func Build(ctx context.Context, cfg *Config, opts BuildOptions) (*function.Dispatcher, variant.Models, error) {
	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}

	registry := make(ModelRegistry, len(cfg.Models))
	for name, mc := range cfg.Models {
		chain, err := buildModel(ctx, name, mc)
		if err != nil {
			return nil, nil, fmt.Errorf("gwconfig: build model %q: %w", name, err)
		}
		registry[name] = chain
	}

	dispatcher := &function.Dispatcher{Functions: make(map[string]*function.Function, len(cfg.Functions))}
	for name, fc := range cfg.Functions {
		fn, err := buildFunction(name, fc, cfg.Tools, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("gwconfig: build function %q: %w", name, err)
		}
		dispatcher.Functions[name] = fn
	}

	return dispatcher, registry, nil
}

func buildModel(ctx context.Context, name string, mc ModelConfig) (*modelchain.Chain, error) {
	var opts []modelchain.Option
	opts = append(opts, modelchain.WithName(name))
	if len(mc.Routing) > 0 {
		opts = append(opts, modelchain.WithRouting(mc.Routing...))
	}
	if mc.Retry != nil {
		opts = append(opts, modelchain.WithRetryPolicy(modelchain.RetryPolicy{
			Attempts:  mc.Retry.Attempts,
			BaseDelay: mc.Retry.BaseDelay,
			MaxDelay:  mc.Retry.MaxDelay,
		}))
	}
	for providerName, pc := range mc.Providers {
		adapter, err := buildProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", providerName, err)
		}
		opts = append(opts, modelchain.WithProvider(providerName, adapter))
	}
	return modelchain.New(opts...)
}

func buildProvider(ctx context.Context, pc ProviderConfig) (model.Adapter, error) {
	creds, err := ResolveAPIKeyLocation(pc.APIKeyLocation, defaultEnvVar(pc.Type))
	if err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if pc.RequestTimeout > 0 {
		httpClient = &http.Client{Timeout: pc.RequestTimeout}
	}

	switch pc.Type {
	case "openai":
		return openai.New(openai.Options{
			Model:       pc.ModelName,
			BaseURL:     pc.BaseURL,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			Credentials: creds,
			HTTPClient:  httpClient,
		})
	case "azureopenai":
		return azureopenai.New(azureopenai.Options{
			Endpoint:    pc.Endpoint,
			Deployment:  pc.Deployment,
			APIVersion:  pc.APIVersion,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			Credentials: creds,
			HTTPClient:  httpClient,
		})
	case "anthropic":
		return anthropic.New(anthropic.Options{
			Model:          pc.ModelName,
			MaxTokens:      pc.MaxTokens,
			Temperature:    pc.Temperature,
			ThinkingBudget: pc.ThinkingBudget,
			Credentials:    creds,
			HTTPClient:     httpClient,
		})
	case "vertexgemini":
		if sc, ok := creds.(model.StaticCredentials); ok && sc.GCPServiceAccount == nil {
			sa, err := ParseGCPServiceAccount(sc.Bytes, pc.TokenAudience)
			if err != nil {
				return nil, fmt.Errorf("vertexgemini: %w", err)
			}
			creds = model.StaticCredentials{GCPServiceAccount: sa}
		}
		return vertexgemini.New(vertexgemini.Options{
			ProjectID:                     pc.ProjectID,
			Location:                      pc.Location,
			Model:                         pc.ModelName,
			MaxTokens:                     pc.MaxTokens,
			Temperature:                   pc.Temperature,
			Credentials:                   creds,
			HTTPClient:                    httpClient,
			ForcedToolChoiceModelPrefixes: pc.ForcedToolChoiceModelPrefixes,
			JSONSchemaModelPrefixes:       pc.JSONSchemaModelPrefixes,
		})
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(pc.Location))
		if err != nil {
			return nil, fmt.Errorf("bedrock: load aws config: %w", err)
		}
		return bedrock.New(bedrock.Options{
			SDK:         bedrockruntime.NewFromConfig(awsCfg),
			Model:       pc.ModelName,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		})
	default:
		return nil, fmt.Errorf("unrecognized provider type %q", pc.Type)
	}
}

// defaultEnvVar returns the environment variable each provider reads when
// no explicit api_key_location is configured.
func defaultEnvVar(providerType string) string {
	switch providerType {
	case "openai", "azureopenai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "vertexgemini":
		return "GCP_SERVICE_ACCOUNT_KEY"
	case "bedrock":
		return ""
	default:
		return ""
	}
}
