// Package azureopenai implements model.Adapter against Azure OpenAI
// deployments, reusing provider/openai's wire format and request/response
// translation and differing only in authentication and endpoint shape:
// Azure authenticates with an "api-key" header instead of a bearer token
// and addresses a deployment rather than a model name.
package azureopenai

import (
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/provider/openai"
)

// Options configures the Azure OpenAI adapter.
type Options struct {
	// Endpoint is the resource's base URL, e.g.
	// "https://my-resource.openai.azure.com".
	Endpoint string

	// Deployment is the deployment name that stands in for the model
	// identifier in Azure's chat-completions URL.
	Deployment string

	// APIVersion is the Azure REST api-version query parameter
	// (e.g. "2024-10-21").
	APIVersion string

	MaxTokens   int
	Temperature float64

	Credentials model.Credentials
	HTTPClient  *http.Client
}

// New constructs an Azure OpenAI adapter on top of provider/openai.
func New(opts Options) (*openai.Client, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("azureopenai: endpoint is required")
	}
	if strings.TrimSpace(opts.Deployment) == "" {
		return nil, fmt.Errorf("azureopenai: deployment is required")
	}
	if strings.TrimSpace(opts.APIVersion) == "" {
		return nil, fmt.Errorf("azureopenai: api version is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	baseURL := strings.TrimRight(opts.Endpoint, "/") + "/openai/deployments/" + opts.Deployment
	httpClient := opts.HTTPClient
	apiVersion := opts.APIVersion

	return openai.New(openai.Options{
		Model:       opts.Deployment,
		VendorName:  "azureopenai",
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Credentials: opts.Credentials,
		HTTPClient:  opts.HTTPClient,
		NewChatClient: func(apiKey string) openai.ChatClient {
			cl := sdk.NewClient(
				option.WithBaseURL(baseURL),
				option.WithHeader("api-key", apiKey),
				option.WithQuery("api-version", apiVersion),
				option.WithHTTPClient(httpClient),
			)
			return &cl.Chat.Completions
		},
	})
}
