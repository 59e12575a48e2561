package vertex

import (
	"cloud.google.com/go/vertexai/genai"
)

// ToGenaiSchema converts the JSON schema produced by llm.CompileSchema into
// the OpenAPI subset Vertex accepts. Nullable types and anyOf-null wrappers
// become Nullable; additionalProperties has no equivalent and is dropped.
func ToGenaiSchema(node map[string]any) *genai.Schema {
	if node == nil {
		return nil
	}
	if alts, ok := node["anyOf"].([]any); ok {
		var out *genai.Schema
		nullable := false
		for _, alt := range alts {
			m, ok := alt.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "null" {
				nullable = true
				continue
			}
			if out == nil {
				out = ToGenaiSchema(m)
			}
		}
		if out == nil {
			out = &genai.Schema{Type: genai.TypeString}
		}
		out.Nullable = out.Nullable || nullable
		if d, ok := node["description"].(string); ok && d != "" {
			out.Description = d
		}
		return out
	}

	s := &genai.Schema{}
	switch t := node["type"].(type) {
	case string:
		s.Type = typeOf(t)
	case []any:
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Nullable = true
				continue
			}
			s.Type = typeOf(name)
		}
	}
	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = ToGenaiSchema(pm)
			}
		}
	}
	if req, ok := node["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		s.Items = ToGenaiSchema(items)
	}
	return s
}

func typeOf(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
