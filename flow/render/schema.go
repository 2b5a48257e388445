package render

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaDoc is the published JSON Schema for RenderedDataflow (§4.3, §6).
// External tooling depends on this shape; a change here is a breaking
// change to the stable interface.
const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowcore.dev/schema/rendered-dataflow.json",
  "$defs": {
    "port": {
      "type": "object",
      "required": ["port_name", "port_id", "from_port_ids", "from_stream_ids"],
      "properties": {
        "port_name": {"type": "string"},
        "port_id": {"type": "string"},
        "from_port_ids": {"type": "array", "items": {"type": "string"}},
        "from_stream_ids": {"type": "array", "items": {"type": "string"}}
      }
    },
    "operator": {
      "type": "object",
      "required": ["op_type", "step_name", "step_id", "inp_ports", "out_ports", "substeps"],
      "properties": {
        "op_type": {"type": "string"},
        "step_name": {"type": "string"},
        "step_id": {"type": "string"},
        "inp_ports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
        "out_ports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
        "substeps": {"type": "array", "items": {"$ref": "#/$defs/operator"}}
      }
    }
  },
  "type": "object",
  "required": ["flow_id", "substeps"],
  "properties": {
    "flow_id": {"type": "string", "minLength": 1},
    "substeps": {"type": "array", "items": {"$ref": "#/$defs/operator"}}
  }
}`

var compiledSchema *jsonschema.Schema

func schema() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	var doc any
	if err := json.Unmarshal([]byte(schemaDoc), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal rendered-dataflow schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("rendered-dataflow.json", doc); err != nil {
		return nil, fmt.Errorf("add rendered-dataflow schema resource: %w", err)
	}
	s, err := c.Compile("rendered-dataflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile rendered-dataflow schema: %w", err)
	}
	compiledSchema = s
	return s, nil
}

// Validate checks rendered's JSON encoding against the published schema,
// catching a rendered-shape regression (§8 scenario 7) as a schema
// validation failure rather than a deep-equal diff against a golden file.
func Validate(rendered *RenderedDataflow) error {
	s, err := schema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rendered)
	if err != nil {
		return fmt.Errorf("marshal rendered dataflow: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal rendered dataflow: %w", err)
	}
	return s.Validate(doc)
}
