package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
)

// Validator checks model replies against the compiled validation schema and
// decodes them into entity.NFSe. A reply is accepted whole or rejected whole.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schema.Validation once.
func NewValidator(schema *ExtractionSchema) (*Validator, error) {
	b, err := json.Marshal(schema.Validation)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := schema.Name + "-" + schema.Version + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Decode validates raw and returns the record. Any failure is a
// *common.ValidationError carrying raw.
func (v *Validator) Decode(raw string) (entity.NFSe, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return entity.NFSe{}, &common.ValidationError{Raw: raw, Cause: errors.New("empty model output")}
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return entity.NFSe{}, &common.ValidationError{Raw: raw, Cause: fmt.Errorf("decode json: %w", err)}
	}
	if err := v.schema.Validate(doc); err != nil {
		return entity.NFSe{}, &common.ValidationError{Raw: raw, Cause: fmt.Errorf("json does not match schema: %w", err)}
	}

	var rec entity.NFSe
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return entity.NFSe{}, &common.ValidationError{Raw: raw, Cause: fmt.Errorf("unmarshal record: %w", err)}
	}
	rec.Normalize()
	return rec, nil
}
