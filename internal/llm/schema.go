package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
)

const (
	ExtractionSchemaName    = "nfse_extraction"
	ExtractionSchemaVersion = "v1"
)

// ExtractionSchema is the versioned output contract for entity.NFSe. It is
// built once at startup and treated as read-only afterwards.
type ExtractionSchema struct {
	Name         string
	Version      string
	Contract     map[string]any // strict schema sent to the model
	Validation   map[string]any // contract with nullable fields made optional, used to check replies
	Fingerprint  string
	contractJSON string
}

// NewExtractionSchema compiles the contract for entity.NFSe.
func NewExtractionSchema() (*ExtractionSchema, error) {
	contract := Strict(CompileSchema(reflect.TypeOf(entity.NFSe{})))
	b, err := json.Marshal(contract)
	if err != nil {
		return nil, fmt.Errorf("marshal contract: %w", err)
	}
	sum := sha256.Sum256(b)
	return &ExtractionSchema{
		Name:         ExtractionSchemaName,
		Version:      ExtractionSchemaVersion,
		Contract:     contract,
		Validation:   relaxRequired(contract),
		Fingerprint:  hex.EncodeToString(sum[:]),
		contractJSON: string(b),
	}, nil
}

// JSON returns the canonical contract text.
func (s *ExtractionSchema) JSON() string { return s.contractJSON }

// Ref returns the schema reference attached to each invocation.
func (s *ExtractionSchema) Ref() SchemaRef {
	return SchemaRef{
		Name:        s.Name,
		Description: "NFS-e fields, schema " + s.Version,
		Body:        s.Contract,
		Strict:      true,
	}
}

// CompileSchema derives a JSON schema from a Go type using its json and desc
// tags. Pointer scalars become ["<type>","null"], pointer structs become
// anyOf [object, null], slices become arrays.
func CompileSchema(t reflect.Type) map[string]any {
	return compileType(t, "")
}

func compileType(t reflect.Type, desc string) map[string]any {
	if t.Kind() == reflect.Pointer {
		inner := compileType(t.Elem(), "")
		var node map[string]any
		if typ, ok := inner["type"].(string); ok && typ != "object" {
			inner["type"] = []any{typ, "null"}
			node = inner
		} else {
			node = map[string]any{"anyOf": []any{inner, map[string]any{"type": "null"}}}
		}
		if desc != "" {
			node["description"] = desc
		}
		return node
	}

	node := map[string]any{}
	switch t.Kind() {
	case reflect.String:
		node["type"] = "string"
	case reflect.Bool:
		node["type"] = "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		node["type"] = "integer"
	case reflect.Float32, reflect.Float64:
		node["type"] = "number"
	case reflect.Slice, reflect.Array:
		node["type"] = "array"
		node["items"] = compileType(t.Elem(), "")
	case reflect.Struct:
		props := map[string]any{}
		order := make([]any, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := jsonName(f)
			if name == "" {
				continue
			}
			props[name] = compileType(f.Type, f.Tag.Get("desc"))
			order = append(order, name)
		}
		node["type"] = "object"
		node["properties"] = props
		// field order is kept here until Strict turns it into "required"
		node[orderKey] = order
	default:
		node["type"] = "string"
	}
	if desc != "" {
		node["description"] = desc
	}
	return node
}

const orderKey = "x-order"

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

// Strict returns a copy of schema where every object node forbids extra
// properties and requires all of its declared properties, recursively
// through properties, items and anyOf.
func Strict(schema map[string]any) map[string]any {
	return walk(schema, func(node map[string]any) {
		if node["type"] != "object" {
			delete(node, orderKey)
			return
		}
		props, _ := node["properties"].(map[string]any)
		required := make([]any, 0, len(props))
		if order, ok := node[orderKey].([]any); ok {
			required = append(required, order...)
		} else {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				required = append(required, name)
			}
		}
		delete(node, orderKey)
		node["required"] = required
		node["additionalProperties"] = false
	})
}

// relaxRequired keeps only non-nullable scalar properties in "required", so
// that an omitted nullable field reads as null and an omitted list as empty.
func relaxRequired(schema map[string]any) map[string]any {
	return walk(schema, func(node map[string]any) {
		req, ok := node["required"].([]any)
		if !ok {
			return
		}
		props, _ := node["properties"].(map[string]any)
		kept := make([]any, 0, len(req))
		for _, name := range req {
			key, _ := name.(string)
			if p, ok := props[key].(map[string]any); ok && !optional(p) {
				kept = append(kept, name)
			}
		}
		if len(kept) == 0 {
			delete(node, "required")
			return
		}
		node["required"] = kept
	})
}

func optional(prop map[string]any) bool {
	switch t := prop["type"].(type) {
	case string:
		return t == "array"
	case []any:
		return slices.Contains(t, any("null"))
	}
	if alts, ok := prop["anyOf"].([]any); ok {
		for _, alt := range alts {
			if m, ok := alt.(map[string]any); ok && m["type"] == "null" {
				return true
			}
		}
	}
	return false
}

// walk deep-copies a schema node and applies fn to every schema node in it.
func walk(node map[string]any, fn func(map[string]any)) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		switch k {
		case "properties":
			if props, ok := v.(map[string]any); ok {
				cp := make(map[string]any, len(props))
				for name, p := range props {
					if pm, ok := p.(map[string]any); ok {
						cp[name] = walk(pm, fn)
					} else {
						cp[name] = p
					}
				}
				out[k] = cp
				continue
			}
		case "items":
			if im, ok := v.(map[string]any); ok {
				out[k] = walk(im, fn)
				continue
			}
		case "anyOf":
			if list, ok := v.([]any); ok {
				cp := make([]any, len(list))
				for i, e := range list {
					if em, ok := e.(map[string]any); ok {
						cp[i] = walk(em, fn)
					} else {
						cp[i] = e
					}
				}
				out[k] = cp
				continue
			}
		case "required", orderKey, "type":
			if list, ok := v.([]any); ok {
				out[k] = slices.Clone(list)
				continue
			}
		}
		out[k] = v
	}
	fn(out)
	return out
}
