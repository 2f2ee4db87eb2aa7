// ABOUTME: Per-method JSON Schema validation of request params
// ABOUTME: Failures aggregate every violation message and cause no side effects

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// methodSchemas holds the request-params schema source per method.
var methodSchemas = map[string]string{
	"chat.send": `{
		"type": "object",
		"required": ["sessionKey", "message", "idempotencyKey"],
		"properties": {
			"sessionKey":     {"type": "string", "minLength": 1},
			"message":        {"type": "string"},
			"idempotencyKey": {"type": "string", "minLength": 1, "maxLength": 100},
			"thinking":       {"type": "string"},
			"deliver":        {"type": "boolean"},
			"timeoutMs":      {"type": "integer", "minimum": 1},
			"attachments": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["content"],
					"properties": {
						"type":     {"type": "string"},
						"mimeType": {"type": "string"},
						"fileName": {"type": "string"}
					}
				}
			}
		}
	}`,
	"chat.abort": `{
		"type": "object",
		"required": ["sessionKey", "runId"],
		"properties": {
			"sessionKey": {"type": "string", "minLength": 1},
			"runId":      {"type": "string", "minLength": 1}
		}
	}`,
	"chat.history": `{
		"type": "object",
		"required": ["sessionKey"],
		"properties": {
			"sessionKey": {"type": "string", "minLength": 1},
			"limit":      {"type": "integer", "minimum": 0}
		}
	}`,
	"agent": `{
		"type": "object",
		"required": ["sessionKey", "message", "idempotencyKey"],
		"properties": {
			"sessionKey":     {"type": "string", "minLength": 1},
			"message":        {"type": "string"},
			"idempotencyKey": {"type": "string", "minLength": 1, "maxLength": 100},
			"thinking":       {"type": "string"},
			"deliver":        {"type": "boolean"},
			"provider":       {"type": "string"},
			"to":             {"type": "string"},
			"timeoutMs":      {"type": "integer", "minimum": 1},
			"attachments": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["content"],
					"properties": {
						"type":     {"type": "string"},
						"mimeType": {"type": "string"},
						"fileName": {"type": "string"}
					}
				}
			}
		}
	}`,
	"agent.wait": `{
		"type": "object",
		"required": ["runId"],
		"properties": {
			"runId":     {"type": "string", "minLength": 1},
			"timeoutMs": {"type": "integer", "minimum": 1}
		}
	}`,
}

// validator holds the compiled per-method schemas.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

// newValidator compiles every method schema.
func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()

	for method, src := range methodSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", method, err)
		}
		if err := c.AddResource(method+".json", doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", method, err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(methodSchemas))
	for method := range methodSchemas {
		schema, err := c.Compile(method + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", method, err)
		}
		schemas[method] = schema
	}

	return &validator{schemas: schemas}, nil
}

// Validate checks params against the method's schema. The returned error
// message aggregates every violation.
func (v *validator) Validate(method string, params json.RawMessage) error {
	schema, ok := v.schemas[method]
	if !ok {
		return fmt.Errorf("unknown method %q", method)
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return fmt.Errorf("params are not valid JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return fmt.Errorf("%s", strings.Join(collectMessages(ve), "; "))
		}
		return err
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

var errPrinter = message.NewPrinter(language.English)

// collectMessages flattens a validation error tree into leaf messages.
func collectMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		if loc == "/" {
			loc = "params"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(errPrinter))}
	}

	var out []string
	for _, cause := range ve.Causes {
		out = append(out, collectMessages(cause)...)
	}
	return out
}
