package function

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tensorzero/tensorzero-sub009/variant"
)

// CompileSchema compiles a single JSON-schema document (as raw JSON bytes)
// for use as a Function's SystemSchema/UserSchema/AssistantSchema.
func CompileSchema(name string, schemaJSON []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("function: unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", doc); err != nil {
		return nil, fmt.Errorf("function: add %s schema resource: %w", name, err)
	}
	schema, err := c.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("function: compile %s schema: %w", name, err)
	}
	return schema, nil
}

// ValidateInput checks in against fn's per-role schemas: RawText blocks
// bypass validation entirely; Text blocks with Arguments are validated
// against the schema for the message's role; a message may carry at most
// one text-or-raw-text block. Messages/blocks of other kinds (tool
// call/result, file) are not subject to schema validation.
func (fn *Function) ValidateInput(in *variant.Input) error {
	if fn.SystemSchema != nil && len(in.System) > 0 {
		var doc any
		if err := json.Unmarshal(in.System, &doc); err != nil {
			return fmt.Errorf("function %q: system input is not valid JSON: %w", fn.Name, err)
		}
		if err := fn.SystemSchema.Validate(doc); err != nil {
			return fmt.Errorf("function %q: system input failed schema validation: %w", fn.Name, err)
		}
	}

	for i, msg := range in.Messages {
		schema := fn.schemaForRole(msg.Role)
		textBlocks := 0
		for _, block := range msg.Content {
			switch v := block.(type) {
			case variant.RawText:
				textBlocks++
			case variant.Text:
				textBlocks++
				if schema == nil || len(v.Arguments) == 0 {
					continue
				}
				var doc any
				if err := json.Unmarshal(v.Arguments, &doc); err != nil {
					return fmt.Errorf("function %q: message %d arguments are not valid JSON: %w", fn.Name, i, err)
				}
				if err := schema.Validate(doc); err != nil {
					return fmt.Errorf("function %q: message %d failed %s schema validation: %w", fn.Name, i, msg.Role, err)
				}
			}
		}
		if textBlocks > 1 {
			return fmt.Errorf("function %q: message %d carries %d text/raw-text blocks, at most one is allowed", fn.Name, i, textBlocks)
		}
	}
	return nil
}

func (fn *Function) schemaForRole(role variant.Role) *jsonschema.Schema {
	switch role {
	case variant.RoleUser:
		return fn.UserSchema
	case variant.RoleAssistant:
		return fn.AssistantSchema
	default:
		return nil
	}
}
