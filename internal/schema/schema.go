// Package schema partitions a JSON Schema into the per-page and
// full-document halves of an extraction run.
package schema

import (
	"github.com/spherical/docmark/internal/domain"
)

// Partition is the result of a Split. A nil side means no properties
// fall on that side.
type Partition struct {
	PerPage map[string]any
	FullDoc map[string]any
}

// Split restricts schema to the properties named in extractPerPage
// and to the rest. Names that match no property are ignored. The
// required list is filtered so each side stays satisfiable.
func Split(schema map[string]any, extractPerPage []string) (Partition, error) {
	if len(schema) == 0 {
		return Partition{}, domain.SchemaError("schema must be a non-empty object", nil)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return Partition{}, domain.SchemaError("schema must declare an object properties field", nil)
	}

	perPage := make(map[string]bool, len(extractPerPage))
	for _, name := range extractPerPage {
		if _, exists := props[name]; exists {
			perPage[name] = true
		}
	}

	fullDoc := make(map[string]bool, len(props))
	for name := range props {
		if !perPage[name] {
			fullDoc[name] = true
		}
	}

	var out Partition
	if len(perPage) > 0 {
		out.PerPage = restrict(schema, props, perPage)
	}
	if len(fullDoc) > 0 || len(perPage) == 0 {
		out.FullDoc = restrict(schema, props, fullDoc)
	}
	return out, nil
}

// restrict copies schema keeping only the named top-level properties
func restrict(schema, props map[string]any, keep map[string]bool) map[string]any {
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		switch key {
		case "properties":
			kept := make(map[string]any, len(keep))
			for name, sub := range props {
				if keep[name] {
					kept[name] = sub
				}
			}
			out["properties"] = kept
		case "required":
			var kept []any
			for _, name := range requiredNames(value) {
				if keep[name] {
					kept = append(kept, name)
				}
			}
			if len(kept) > 0 {
				out["required"] = kept
			}
		default:
			out[key] = value
		}
	}
	return out
}

// requiredNames reads a required list whether it came from JSON
// decoding or a Go literal.
func requiredNames(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
