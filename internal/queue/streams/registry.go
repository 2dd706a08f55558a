package streams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrUnknownEvent means no schema exists for the event type and payload version.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload means the payload is not JSON or fails its schema.
	ErrInvalidPayload = errors.New("invalid payload")
)

type schemaKey struct {
	eventType string
	version   string
}

// SchemaRegistry holds the compiled payload schema of every thread event.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*jsonschema.Schema
}

// NewSchemaRegistry compiles defs into a registry.
func NewSchemaRegistry(defs ...Definition) (*SchemaRegistry, error) {
	r := &SchemaRegistry{schemas: make(map[schemaKey]*jsonschema.Schema, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles def, replacing any schema for the same event and version.
func (r *SchemaRegistry) Register(def Definition) error {
	if def.EventType == "" || def.Version == "" {
		return fmt.Errorf("schema definition needs an event type and version")
	}
	if len(def.Schema) == 0 {
		return fmt.Errorf("%s %s: empty schema", def.EventType, def.Version)
	}
	url := def.EventType + "/" + def.Version + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(def.Schema)); err != nil {
		return fmt.Errorf("%s %s: add schema: %w", def.EventType, def.Version, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("%s %s: compile schema: %w", def.EventType, def.Version, err)
	}

	r.mu.Lock()
	r.schemas[schemaKey{def.EventType, def.Version}] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks payload against the schema of eventType at version. The
// error wraps ErrUnknownEvent or ErrInvalidPayload.
func (r *SchemaRegistry) Validate(eventType, version string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[schemaKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q version %q", ErrUnknownEvent, eventType, version)
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	return nil
}
