package variant

import "encoding/json"

// TemplateRenderer is the external template-engine collaborator (out of
// scope for this module per the gateway's external-interfaces boundary):
// a sandboxed text-template engine that turns a variant's configured
// system/user/assistant templates plus structured Text.Arguments into
// rendered strings. ChatCompletion calls it when a Text block carries
// Arguments instead of a plain Text string; callers that never use
// Arguments (RawText or plain Text) can pass nil.
type TemplateRenderer interface {
	Render(templateName string, args json.RawMessage) (string, error)
}

// noRenderer is used when a variant has no templates configured: a Text
// block with Arguments is then treated as an error at render time, since
// there is nothing to expand it against.
type noRenderer struct{}

func (noRenderer) Render(string, json.RawMessage) (string, error) {
	return "", errTemplateArgumentsWithoutRenderer
}

var errTemplateArgumentsWithoutRenderer = templateError("variant: structured template arguments supplied but no TemplateRenderer is configured")

type templateError string

func (e templateError) Error() string { return string(e) }
