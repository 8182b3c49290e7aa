package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://monsterarena.ai/schemas/"

// Validator checks wire messages against the embedded JSON schemas.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

var schemaForType = map[string]string{
	TypeHello:   "hello.schema.json",
	TypeWelcome: "welcome.schema.json",
	TypeAct:     "act.schema.json",
	TypeResult:  "result.schema.json",
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{byType: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaForType {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.byType[typ] = s
	}
	return v, nil
}

// Validate checks raw JSON against the schema selected by its "type" field.
func (v *Validator) Validate(raw []byte) error {
	base, err := DecodeBase(raw)
	if err != nil {
		return err
	}
	s := v.byType[base.Type]
	if s == nil {
		return fmt.Errorf("unknown message type %q", base.Type)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

// ValidateValue marshals msg and validates the result; used for outbound messages.
func (v *Validator) ValidateValue(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return v.Validate(b)
}
