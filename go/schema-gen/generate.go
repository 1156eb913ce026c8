package schemagen

import (
	"reflect"
	"strconv"

	"github.com/invopop/jsonschema"
)

// GenerateSchema produces the JSON schema of a connector configuration
// struct, suitable for printing in response to a spec request.
func GenerateSchema(title string, configObject interface{}) *jsonschema.Schema {
	// By default the library generates schemas with a top-level $ref that
	// references a definition. That hurts readability and breaks UI code
	// that generates forms from the schema, so references are disabled
	// entirely.
	var reflector = jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	var schema = reflector.ReflectFromType(reflect.TypeOf(configObject))
	schema.AdditionalProperties = nil // Unset means additional properties are permitted on the root object
	schema.Definitions = nil          // Since no references are used, these definitions are just noise
	schema.Title = title
	walkSchema(
		schema,
		fixSchemaFlagBools(schema, "secret", "advanced", "multiline"),
		fixSchemaOrderingStrings,
	)
	return schema
}

// walkSchema invokes the visit functions on every property of the root
// schema and then traverses each sub-schema recursively. Visits modify the
// provided schema in place.
func walkSchema(root *jsonschema.Schema, visits ...func(t *jsonschema.Schema)) {
	if root.Properties != nil {
		for pair := root.Properties.Oldest(); pair != nil; pair = pair.Next() {
			for _, visit := range visits {
				visit(pair.Value)
			}
			walkSchema(pair.Value, visits...)
		}
	}
}

// Struct tags can only hold strings, so boolean schema extras like
// "secret=true" arrive as strings and need converting back.
func fixSchemaFlagBools(t *jsonschema.Schema, flagKeys ...string) func(t *jsonschema.Schema) {
	return func(t *jsonschema.Schema) {
		for key, val := range t.Extras {
			for _, flag := range flagKeys {
				if key != flag {
					continue
				} else if val == "true" {
					t.Extras[key] = true
				} else if val == "false" {
					t.Extras[key] = false
				}
			}
		}
	}
}

func fixSchemaOrderingStrings(t *jsonschema.Schema) {
	for key, val := range t.Extras {
		if key == "order" {
			if str, ok := val.(string); ok {
				converted, err := strconv.Atoi(str)
				if err != nil {
					// Don't try to convert strings that don't look like integers.
					continue
				}
				t.Extras[key] = converted
			}
		}
	}
}
