// Package gwconfig loads the gateway's typed configuration tree from YAML,
// resolves api_key_location entries into model.Credentials, validates
// cross-cutting invariants at startup, and builds the runtime object graph
// (a function.Dispatcher plus a variant.Models) the orchestrator drives.
package gwconfig

import "time"

type (
	// Config is the root of the gateway's configuration tree: one entry
	// per named model (a provider fallback chain), one per named
	// function (a dispatcher entry with its variants), and one per
	// standalone tool declaration shared across functions.
	Config struct {
		Models    map[string]ModelConfig    `yaml:"models"`
		Functions map[string]FunctionConfig `yaml:"functions"`
		Tools     map[string]ToolConfig     `yaml:"tools"`

		// OutboundTimeout is the global ceiling every variant's Timeout
		// and TTFTTimeout must stay at or below.
		OutboundTimeout time.Duration `yaml:"outbound_timeout"`
	}

	// ModelConfig names an ordered provider routing list plus the
	// per-provider settings backing each routing entry.
	ModelConfig struct {
		Routing   []string                  `yaml:"routing"`
		Providers map[string]ProviderConfig `yaml:"providers"`
		Retry     *RetryConfig              `yaml:"retry"`
	}

	// RetryConfig mirrors modelchain.RetryPolicy.
	RetryConfig struct {
		Attempts  int           `yaml:"attempts"`
		BaseDelay time.Duration `yaml:"base_delay"`
		MaxDelay  time.Duration `yaml:"max_delay"`
	}

	// ProviderConfig is one entry in a model's routing list: which
	// adapter type to build, the vendor-side model identifier, and how
	// to resolve that adapter's credentials.
	ProviderConfig struct {
		Type            string        `yaml:"type"`
		ModelName       string        `yaml:"model_name"`
		APIKeyLocation  string        `yaml:"api_key_location"`
		MaxTokens       int           `yaml:"max_tokens"`
		Temperature     float64       `yaml:"temperature"`
		ThinkingBudget  int64         `yaml:"thinking_budget"`
		BaseURL         string        `yaml:"base_url"`
		VendorName      string        `yaml:"vendor_name"`
		ProjectID       string        `yaml:"project_id"`
		Location        string        `yaml:"location"`
		Endpoint        string        `yaml:"endpoint"`
		Deployment      string        `yaml:"deployment"`
		APIVersion      string        `yaml:"api_version"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		TokenAudience   string        `yaml:"token_audience"`

		ForcedToolChoiceModelPrefixes []string `yaml:"forced_tool_choice_model_prefixes"`
		JSONSchemaModelPrefixes       []string `yaml:"json_schema_model_prefixes"`
	}

	// FunctionConfig is one dispatcher entry: its type (chat/json), its
	// input schemas, its statically-declared tools, and its variants.
	FunctionConfig struct {
		Type            string                   `yaml:"type"`
		SystemSchema    rawJSON                  `yaml:"system_schema"`
		UserSchema      rawJSON                  `yaml:"user_schema"`
		AssistantSchema rawJSON                  `yaml:"assistant_schema"`
		Tools           []string                 `yaml:"tools"`
		ToolChoice      string                   `yaml:"tool_choice"`
		ParallelTools   *bool                    `yaml:"parallel_tool_calls"`
		Variants        map[string]VariantConfig `yaml:"variants"`
	}

	// VariantConfig is one named strategy within a function, tagged by
	// Type ("chat", "best_of_n", "mixture_of_n", "dicl",
	// "chain_of_thought") with the fields relevant to that type left
	// populated and the rest at their zero value.
	VariantConfig struct {
		Type   string  `yaml:"type"`
		Weight float64 `yaml:"weight"`

		Timeout      time.Duration `yaml:"timeout"`
		TTFTTimeout  time.Duration `yaml:"ttft_timeout"`

		// Chat
		Model          string  `yaml:"model"`
		SystemTemplate string  `yaml:"system_template"`

		// BestOfN / MixtureOfN
		Candidates       []string      `yaml:"candidates"`
		Judge            string        `yaml:"judge"`
		Fuser            string        `yaml:"fuser"`
		CandidateTimeout time.Duration `yaml:"candidate_timeout"`
		MaxWorkers       int           `yaml:"max_workers"`

		// DICL
		Chat           string `yaml:"chat"`
		EmbedderModel  string `yaml:"embedder_model"`
		K              int    `yaml:"k"`

		// ChainOfThought
		ChatVariant string `yaml:"chat_variant"`
	}

	// ToolConfig is a standalone named tool declaration referenced by
	// name from a function's Tools list.
	ToolConfig struct {
		Description string  `yaml:"description"`
		Parameters  rawJSON `yaml:"parameters"`
		Strict      bool    `yaml:"strict"`
	}
)
