package gwconfig

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/model"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

func buildFunction(name string, fc FunctionConfig, tools map[string]ToolConfig, opts BuildOptions) (*function.Function, error) {
	fn := &function.Function{
		Name:     name,
		Type:     variant.FunctionType(fc.Type),
		Variants: make(map[string]*function.VariantConfig, len(fc.Variants)),
	}
	if fn.Type == "" {
		fn.Type = variant.FunctionTypeChat
	}

	staticTools, err := buildToolConfig(fc.Tools, fc.ToolChoice, fc.ParallelTools, tools)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	fn.StaticTools = staticTools

	if len(fc.SystemSchema) > 0 {
		schema, err := function.CompileSchema(name+".system", fc.SystemSchema)
		if err != nil {
			return nil, err
		}
		fn.SystemSchema = schema
	}
	if len(fc.UserSchema) > 0 {
		schema, err := function.CompileSchema(name+".user", fc.UserSchema)
		if err != nil {
			return nil, err
		}
		fn.UserSchema = schema
	}
	if len(fc.AssistantSchema) > 0 {
		schema, err := function.CompileSchema(name+".assistant", fc.AssistantSchema)
		if err != nil {
			return nil, err
		}
		fn.AssistantSchema = schema
	}

	b := &variantBuilder{
		functionName: name,
		config:       fc.Variants,
		staticTools:  staticTools,
		functionType: fn.Type,
		opts:         opts,
		strategies:   make(map[string]variant.Strategy, len(fc.Variants)),
		building:     make(map[string]bool, len(fc.Variants)),
	}
	for variantName, vc := range fc.Variants {
		strategy, err := b.resolve(variantName)
		if err != nil {
			return nil, err
		}
		fn.Variants[variantName] = &function.VariantConfig{
			Strategy:    strategy,
			Weight:      vc.Weight,
			Timeout:     vc.Timeout,
			TTFTTimeout: vc.TTFTTimeout,
		}
	}
	return fn, nil
}

// variantBuilder resolves a function's variants.<name> entries into
// variant.Strategy values, memoizing each by name so a variant referenced
// as a sub-variant (best_of_n's candidates/judge, mixture_of_n's
// candidates/fuser, dicl's chat, chain_of_thought's chat_variant) by
// multiple siblings is only built once, and detecting reference cycles.
type variantBuilder struct {
	functionName string
	config       map[string]VariantConfig
	staticTools  variant.ToolConfig
	functionType variant.FunctionType
	opts         BuildOptions

	strategies map[string]variant.Strategy
	building   map[string]bool
}

func (b *variantBuilder) resolve(name string) (variant.Strategy, error) {
	if s, ok := b.strategies[name]; ok {
		return s, nil
	}
	if b.building[name] {
		return nil, fmt.Errorf("function %q: variant %q participates in a reference cycle", b.functionName, name)
	}
	vc, ok := b.config[name]
	if !ok {
		return nil, fmt.Errorf("function %q: variant %q is not declared", b.functionName, name)
	}
	b.building[name] = true
	defer delete(b.building, name)

	strategy, err := b.build(name, vc)
	if err != nil {
		return nil, err
	}
	b.strategies[name] = strategy
	return strategy, nil
}

func (b *variantBuilder) build(name string, vc VariantConfig) (variant.Strategy, error) {
	switch vc.Type {
	case "chat":
		return &variant.ChatCompletion{
			Name:           name,
			ModelName:      vc.Model,
			SystemTemplate: vc.SystemTemplate,
			FunctionType:   b.functionType,
			StaticTools:    b.staticTools,
			Renderer:       b.opts.Renderer,
		}, nil

	case "best_of_n":
		candidates, err := b.resolveAll(vc.Candidates)
		if err != nil {
			return nil, err
		}
		judge, err := b.resolve(vc.Judge)
		if err != nil {
			return nil, fmt.Errorf("variant %q judge: %w", name, err)
		}
		return &variant.BestOfN{
			Name:             name,
			Candidates:       candidates,
			Judge:            judge,
			CandidateTimeout: vc.CandidateTimeout,
			MaxWorkers:       vc.MaxWorkers,
		}, nil

	case "mixture_of_n":
		candidates, err := b.resolveAll(vc.Candidates)
		if err != nil {
			return nil, err
		}
		fuser, err := b.resolve(vc.Fuser)
		if err != nil {
			return nil, fmt.Errorf("variant %q fuser: %w", name, err)
		}
		return &variant.MixtureOfN{
			Name:             name,
			Candidates:       candidates,
			Fuser:            fuser,
			CandidateTimeout: vc.CandidateTimeout,
			MaxWorkers:       vc.MaxWorkers,
		}, nil

	case "dicl":
		chatStrategy, err := b.resolve(vc.Chat)
		if err != nil {
			return nil, fmt.Errorf("variant %q chat: %w", name, err)
		}
		chat, ok := chatStrategy.(*variant.ChatCompletion)
		if !ok {
			return nil, fmt.Errorf("variant %q: dicl's chat %q must itself be a chat variant", name, vc.Chat)
		}
		return &variant.DICL{
			Chat:          chat,
			Embedder:      b.opts.Embedder,
			ExemplarStore: b.opts.ExemplarStore,
			K:             vc.K,
			FunctionName:  b.functionName,
		}, nil

	case "chain_of_thought":
		chatStrategy, err := b.resolve(vc.ChatVariant)
		if err != nil {
			return nil, fmt.Errorf("variant %q chat_variant: %w", name, err)
		}
		chat, ok := chatStrategy.(*variant.ChatCompletion)
		if !ok {
			return nil, fmt.Errorf("variant %q: chain_of_thought's chat_variant %q must itself be a chat variant", name, vc.ChatVariant)
		}
		return &variant.ChainOfThought{Chat: chat}, nil

	default:
		return nil, fmt.Errorf("variant %q: unrecognized type %q", name, vc.Type)
	}
}

func (b *variantBuilder) resolveAll(names []string) ([]variant.Strategy, error) {
	out := make([]variant.Strategy, 0, len(names))
	for _, n := range names {
		s, err := b.resolve(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// buildToolConfig assembles a function's static tool configuration from
// its declared tool names (each resolved against the top-level tools.<name>
// table) plus its tool_choice/parallel_tool_calls settings.
func buildToolConfig(names []string, choiceRaw string, parallel *bool, tools map[string]ToolConfig) (variant.ToolConfig, error) {
	var cfg variant.ToolConfig
	for _, n := range names {
		tc, ok := tools[n]
		if !ok {
			return cfg, fmt.Errorf("references undeclared tool %q", n)
		}
		cfg.ToolsAvailable = append(cfg.ToolsAvailable, variant.Tool{
			Name:        n,
			Description: tc.Description,
			Parameters:  json.RawMessage(tc.Parameters),
			Strict:      tc.Strict,
		})
	}
	choice, err := parseToolChoice(choiceRaw)
	if err != nil {
		return cfg, err
	}
	cfg.ToolChoice = choice
	if parallel != nil {
		cfg.ParallelToolCalls = *parallel
		cfg.ParallelCallsSet = true
	}
	return cfg, nil
}

// parseToolChoice parses the config-file tool_choice grammar: the bare
// strings "none"/"auto"/"required", or "specific(<tool name>)". An empty
// string means auto, matching every provider's own default.
func parseToolChoice(raw string) (variant.ToolChoice, error) {
	switch {
	case raw == "":
		return variant.ToolChoice{Mode: model.ToolChoiceModeAuto}, nil
	case raw == "none":
		return variant.ToolChoice{Mode: model.ToolChoiceModeNone}, nil
	case raw == "auto":
		return variant.ToolChoice{Mode: model.ToolChoiceModeAuto}, nil
	case raw == "required":
		return variant.ToolChoice{Mode: model.ToolChoiceModeRequired}, nil
	case strings.HasPrefix(raw, "specific(") && strings.HasSuffix(raw, ")"):
		toolName := strings.TrimSuffix(strings.TrimPrefix(raw, "specific("), ")")
		if toolName == "" {
			return variant.ToolChoice{}, fmt.Errorf("malformed tool_choice %q", raw)
		}
		return variant.ToolChoice{Mode: model.ToolChoiceModeSpecific, Name: toolName}, nil
	default:
		return variant.ToolChoice{}, fmt.Errorf("unrecognized tool_choice %q", raw)
	}
}
