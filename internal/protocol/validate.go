package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"hexmarket.gg/schemas"
)

// Validator checks inbound frames against the embedded wire schemas
// before they reach a room actor.
type Validator struct {
	client *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	entries, err := fs.ReadDir(schemas.FS, ".")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := fs.ReadFile(schemas.FS, e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	sch, err := c.Compile("client.schema.json")
	if err != nil {
		return nil, err
	}
	return &Validator{client: sch}, nil
}

// ValidateInbound returns nil when raw is a well-formed client frame.
func (v *Validator) ValidateInbound(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return v.client.Validate(doc)
}
