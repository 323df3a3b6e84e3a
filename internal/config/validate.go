// CUE schema validation code
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var embeddedSchema []byte

// Schema returns the embedded CUE schema.
func Schema() []byte { return embeddedSchema }

func readSchema(cueFile string) ([]byte, error) {
	if cueFile == "" {
		return embeddedSchema, nil
	}
	b, err := os.ReadFile(cueFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read CUE schema: %w", err)
	}
	return b, nil
}

// ValidateWithCue validates a YAML configuration file using a CUE schema file.
func ValidateWithCue(configFile, cueFile string) error {
	yamlBytes, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("cannot read YAML config: %w", err)
	}
	schemaBytes, err := readSchema(cueFile)
	if err != nil {
		return err
	}
	return ValidateBytes(configFile, yamlBytes, schemaBytes)
}

// ValidateBytes unifies YAML content with a CUE schema and validates the result.
func ValidateBytes(name string, yamlBytes, schemaBytes []byte) error {
	ctx := cuecontext.New()

	file, err := cueyaml.Extract(name, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if configVal.Err() != nil {
		return fmt.Errorf("cannot build YAML config: %w", configVal.Err())
	}

	schemaVal := ctx.CompileBytes(schemaBytes)
	if schemaVal.Err() != nil {
		return fmt.Errorf("cannot compile CUE schema: %w", schemaVal.Err())
	}

	// Merge values with schema
	final := configVal.Unify(schemaVal)
	if final.Err() != nil {
		return fmt.Errorf("schema unify failed: %w", final.Err())
	}

	// Validate final structure
	if err := final.Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
