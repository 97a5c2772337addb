package gwconfig

import "fmt"

// ErrInvalidFunctionVariants is returned when a function declares zero
// variants, matching the InvalidFunctionVariants taxonomy entry.
type ErrInvalidFunctionVariants struct {
	FunctionName string
}

func (e *ErrInvalidFunctionVariants) Error() string {
	return fmt.Sprintf("gwconfig: function %q declares zero variants", e.FunctionName)
}

// ErrTimeoutExceedsOutbound is returned when a variant's Timeout or
// TTFTTimeout exceeds the global outbound timeout ceiling.
type ErrTimeoutExceedsOutbound struct {
	FunctionName, VariantName string
	Field                     string
	Value, Ceiling            string
}

func (e *ErrTimeoutExceedsOutbound) Error() string {
	return fmt.Sprintf("gwconfig: function %q variant %q: %s %s exceeds outbound_timeout %s",
		e.FunctionName, e.VariantName, e.Field, e.Value, e.Ceiling)
}

// Validate checks cross-cutting invariants that a single field's own type
// can't express: every function must declare at least one variant, every
// variant's Timeout/TTFTTimeout must stay at or below the global outbound
// timeout, every model reference (a variant's Model/Candidates/Judge/
// Fuser/Chat field) must resolve to either a models.<name> entry or a
// sibling variant within the same function, and every provider's type
// must be one this module knows how to build.
func Validate(cfg *Config) error {
	for modelName, mc := range cfg.Models {
		if len(mc.Routing) == 0 && len(mc.Providers) != 1 {
			return fmt.Errorf("gwconfig: model %q: routing is required when more than one provider is configured", modelName)
		}
		for _, name := range mc.Routing {
			if _, ok := mc.Providers[name]; !ok {
				return fmt.Errorf("gwconfig: model %q: routing references undeclared provider %q", modelName, name)
			}
		}
		for providerName, pc := range mc.Providers {
			if !knownProviderType(pc.Type) {
				return fmt.Errorf("gwconfig: model %q provider %q: unrecognized type %q", modelName, providerName, pc.Type)
			}
		}
	}

	for fnName, fc := range cfg.Functions {
		if len(fc.Variants) == 0 {
			return &ErrInvalidFunctionVariants{FunctionName: fnName}
		}
		for variantName, vc := range fc.Variants {
			if cfg.OutboundTimeout > 0 {
				if vc.Timeout > cfg.OutboundTimeout {
					return &ErrTimeoutExceedsOutbound{fnName, variantName, "timeout", vc.Timeout.String(), cfg.OutboundTimeout.String()}
				}
				if vc.TTFTTimeout > cfg.OutboundTimeout {
					return &ErrTimeoutExceedsOutbound{fnName, variantName, "ttft_timeout", vc.TTFTTimeout.String(), cfg.OutboundTimeout.String()}
				}
			}
			if err := validateVariantReferences(cfg, fnName, fc, variantName, vc); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateVariantReferences(cfg *Config, fnName string, fc FunctionConfig, variantName string, vc VariantConfig) error {
	checkModel := func(name string) error {
		if name == "" {
			return nil
		}
		if _, ok := cfg.Models[name]; ok {
			return nil
		}
		return fmt.Errorf("gwconfig: function %q variant %q: references undeclared model %q", fnName, variantName, name)
	}
	checkSibling := func(name string) error {
		if name == "" {
			return nil
		}
		if _, ok := fc.Variants[name]; ok {
			return nil
		}
		return fmt.Errorf("gwconfig: function %q variant %q: references undeclared sibling variant %q", fnName, variantName, name)
	}

	switch vc.Type {
	case "chat":
		return checkModel(vc.Model)
	case "best_of_n", "mixture_of_n":
		for _, c := range vc.Candidates {
			if err := checkSibling(c); err != nil {
				return err
			}
		}
		if vc.Type == "best_of_n" {
			return checkSibling(vc.Judge)
		}
		return checkSibling(vc.Fuser)
	case "dicl":
		return checkSibling(vc.Chat)
	case "chain_of_thought":
		return checkSibling(vc.ChatVariant)
	default:
		return fmt.Errorf("gwconfig: function %q variant %q: unrecognized type %q", fnName, variantName, vc.Type)
	}
}

func knownProviderType(t string) bool {
	switch t {
	case "openai", "anthropic", "azureopenai", "bedrock", "vertexgemini":
		return true
	default:
		return false
	}
}
