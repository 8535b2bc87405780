package config

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/felixgeelhaar/roundtable/domain/config"
)

// GenerateSchema infers the JSON Schema of EngineConfig from its struct tags.
func GenerateSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[config.EngineConfig](&jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[config.Duration](): {Type: "string", Description: "Go duration string, e.g. 60s"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("infer config schema: %w", err)
	}
	schema.Title = "Round-Table Engine Configuration"
	return schema, nil
}

// SchemaJSON returns the configuration JSON Schema as an indented JSON string.
func SchemaJSON() (string, error) {
	schema, err := GenerateSchema()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config schema: %w", err)
	}
	return string(data), nil
}
