package orchestrator

import (
	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/variant"
)

// resolveFunction implements step 3: normalize function_name/model_name. A
// bare model_name synthesizes an ephemeral single-variant chat function
// named tensorzero::default targeting that model; supplying both is a
// request error.
func (g *Gateway) resolveFunction(req *Request) (*function.Function, string, error) {
	if req.FunctionName != "" && req.ModelName != "" {
		return nil, "", newError(KindInvalidRequest,
			"request must set exactly one of function_name/model_name, got both (%q, %q)",
			req.FunctionName, req.ModelName)
	}

	if req.ModelName != "" {
		fn := &function.Function{
			Name: defaultFunctionName,
			Type: variant.FunctionTypeChat,
			Variants: map[string]*function.VariantConfig{
				"default": {
					Weight: 1,
					Strategy: &variant.ChatCompletion{
						Name:         "default",
						ModelName:    req.ModelName,
						FunctionType: variant.FunctionTypeChat,
					},
				},
			},
		}
		return fn, defaultFunctionName, nil
	}

	if req.FunctionName == "" {
		return nil, "", newError(KindInvalidRequest, "request must set function_name or model_name")
	}

	fn, err := g.Dispatcher.Lookup(req.FunctionName)
	if err != nil {
		return nil, "", newError(KindInvalidRequest, "%s", err)
	}
	return fn, req.FunctionName, nil
}
