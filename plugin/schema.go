package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// MethodSchema describes one method of the host-facing surface.
type MethodSchema struct {
	Method string             `json:"method"`
	Gated  bool               `json:"gated"`
	Params *jsonschema.Schema `json:"params,omitempty"`
	Result *jsonschema.Schema `json:"result,omitempty"`
}

// Schemas reflects the params and result of every method.
func Schemas() []MethodSchema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	out := make([]MethodSchema, 0, len(operations))
	for _, name := range Methods() {
		op := operations[name]
		s := MethodSchema{Method: name, Gated: !op.ungated}
		if op.input != nil {
			s.Params = reflector.Reflect(op.input)
		}
		if op.output != nil {
			s.Result = reflector.Reflect(op.output)
		}
		out = append(out, s)
	}
	return out
}

// SchemaJSON renders Schemas as indented JSON.
func SchemaJSON() ([]byte, error) {
	b, err := json.MarshalIndent(Schemas(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return b, nil
}
