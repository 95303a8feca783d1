package httpapi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validator compiles and caches the config-patch JSON Schema. Grounded on
// the teacher's schema.Validator (pkg/device/schema/validate.go): the
// schema is compiled once in newValidator, kept, and each decoded map is
// validated against it.
type validator struct {
	mu      sync.Mutex
	compiled *jsonschema.Schema
}

func newValidator() (*validator, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(configPatchSchema), &schemaDoc); err != nil {
		return nil, fmt.Errorf("httpapi: unmarshal config schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config-patch.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("httpapi: add schema resource: %w", err)
	}
	compiled, err := c.Compile("config-patch.json")
	if err != nil {
		return nil, fmt.Errorf("httpapi: compile config schema: %w", err)
	}
	return &validator{compiled: compiled}, nil
}

// Validate checks payload (already JSON-decoded into a generic map) against
// the cached config-patch schema.
func (v *validator) Validate(payload map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.compiled.Validate(payload)
}
