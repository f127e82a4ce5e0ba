package codec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/offlinekit/errors"
)

// Schema is a compiled JSON Schema contract for one resource's payloads.
type Schema struct {
	resource string
	schema   *gojsonschema.Schema
}

// NewSchema compiles a JSON Schema document for resource.
func NewSchema(resource string, document []byte) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "NewSchema",
			fmt.Sprintf("compile schema for %s", resource))
	}
	return &Schema{resource: resource, schema: compiled}, nil
}

// Resource returns the resource the schema applies to.
func (s *Schema) Resource() string {
	return s.resource
}

// Validate checks payload against the schema. Violations are returned as a
// validation RemoteError so they are never retried.
func (s *Schema) Validate(payload []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return errors.NewValidationError(0, fmt.Sprintf("%s payload is not valid JSON: %v", s.resource, err))
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.NewValidationError(0, fmt.Sprintf("%s payload rejected: %s",
		s.resource, strings.Join(problems, "; ")))
}

// Registry holds one schema per resource. Resources without a schema accept any
// payload.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register compiles and stores the schema for resource, replacing any previous one.
func (r *Registry) Register(resource string, document []byte) error {
	s, err := NewSchema(resource, document)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[resource] = s
	r.mu.Unlock()
	return nil
}

// Validate checks payload against the schema registered for resource.
func (r *Registry) Validate(resource string, payload []byte) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	s, ok := r.schemas[resource]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Validate(payload)
}
