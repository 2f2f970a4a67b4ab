package inbound

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[core.EventKind]string{
	core.EventKindAssignment: "schemas/assignment.json",
	core.EventKindIssue:      "schemas/issue.json",
	core.EventKindComment:    "schemas/comment.json",
}

// SchemaValidator checks a delivery's data object against the JSON Schema of
// its event type before it is decoded into a typed payload.
type SchemaValidator struct {
	schemas map[core.EventKind]*jsonschema.Schema
}

func NewSchemaValidator() (*SchemaValidator, error) {
	validator := &SchemaValidator{schemas: map[core.EventKind]*jsonschema.Schema{}}
	for kind, file := range schemaFiles {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("inbound: read schema %s: %w", file, err)
		}
		schema, err := compileSchema(raw, "mem://gateway/"+file)
		if err != nil {
			return nil, fmt.Errorf("inbound: compile schema %s: %w", file, err)
		}
		validator.schemas[kind] = schema
	}
	return validator, nil
}

// MustSchemaValidator panics if the embedded schemas do not compile.
func MustSchemaValidator() *SchemaValidator {
	validator, err := NewSchemaValidator()
	if err != nil {
		panic(err)
	}
	return validator
}

func compileSchema(raw []byte, ref string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(ref, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(ref)
}

// Validate returns a MalformedPayload error when data does not match. Event
// types without a schema pass through.
func (v *SchemaValidator) Validate(eventType core.EventType, data json.RawMessage) error {
	if v == nil {
		return nil
	}
	schema, ok := v.schemas[eventType.Kind]
	if !ok {
		return nil
	}
	metadata := map[string]any{"event_type": eventType.String()}
	if len(bytes.TrimSpace(data)) == 0 {
		return core.MalformedPayload(fmt.Errorf("inbound: data object is missing"), metadata)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.MalformedPayload(err, metadata)
	}
	if err := schema.Validate(doc); err != nil {
		return core.MalformedPayload(err, metadata)
	}
	return nil
}
