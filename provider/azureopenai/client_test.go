package azureopenai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/tensorzero-sub009/model"
)

func TestNewRequiresEndpointDeploymentAndAPIVersion(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Endpoint: "https://res.openai.azure.com"})
	require.Error(t, err)

	_, err = New(Options{Endpoint: "https://res.openai.azure.com", Deployment: "gpt-4o"})
	require.Error(t, err)
}

func TestNewBuildsAdapterNamedAzureOpenAI(t *testing.T) {
	cl, err := New(Options{
		Endpoint:   "https://res.openai.azure.com",
		Deployment: "gpt-4o",
		APIVersion: "2024-10-21",
		Credentials: model.StaticCredentials{Bytes: []byte("key")},
	})
	require.NoError(t, err)
	require.Equal(t, "azureopenai", cl.Name())
}
