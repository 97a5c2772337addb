package gwconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Models: map[string]ModelConfig{
			"gpt": {Providers: map[string]ProviderConfig{
				"openai": {Type: "openai", ModelName: "gpt-4o", APIKeyLocation: "none"},
			}},
		},
		Functions: map[string]FunctionConfig{
			"basic_test": {
				Type: "chat",
				Variants: map[string]VariantConfig{
					"v1": {Type: "chat", Model: "gpt", Weight: 1},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, Validate(baseConfig()))
}

func TestValidateRejectsZeroVariantFunction(t *testing.T) {
	cfg := baseConfig()
	cfg.Functions["empty_fn"] = FunctionConfig{Type: "chat"}
	err := Validate(cfg)
	require.Error(t, err)
	var target *ErrInvalidFunctionVariants
	require.ErrorAs(t, err, &target)
}

func TestValidateRejectsTimeoutExceedingOutbound(t *testing.T) {
	cfg := baseConfig()
	cfg.OutboundTimeout = 5 * time.Second
	v := cfg.Functions["basic_test"].Variants["v1"]
	v.Timeout = 10 * time.Second
	cfg.Functions["basic_test"].Variants["v1"] = v
	err := Validate(cfg)
	require.Error(t, err)
	var target *ErrTimeoutExceedsOutbound
	require.ErrorAs(t, err, &target)
}

func TestValidateRejectsUndeclaredRoutingProvider(t *testing.T) {
	cfg := baseConfig()
	m := cfg.Models["gpt"]
	m.Routing = []string{"nonexistent"}
	cfg.Models["gpt"] = m
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownVariantType(t *testing.T) {
	cfg := baseConfig()
	cfg.Functions["basic_test"].Variants["v1"] = VariantConfig{Type: "not_a_real_type"}
	require.Error(t, Validate(cfg))
}

func TestValidateRejectsDanglingSiblingReference(t *testing.T) {
	cfg := baseConfig()
	cfg.Functions["basic_test"].Variants["arena"] = VariantConfig{
		Type:       "best_of_n",
		Candidates: []string{"v1", "missing"},
		Judge:      "v1",
	}
	require.Error(t, Validate(cfg))
}
