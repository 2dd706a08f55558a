package streams

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventThreadRequested,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["thread_id", "request", "trigger"],
  "properties": {
    "thread_id": {"type": "string", "minLength": 1},
    "request": {"type": "string", "minLength": 1},
    "auto_accept": {"type": "boolean"},
    "background_search": {"type": "boolean"},
    "trigger": {"type": "string", "enum": ["api", "schedule", "cli"]},
    "schedule": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventThreadResumed,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["thread_id", "reply"],
  "properties": {
    "thread_id": {"type": "string", "minLength": 1},
    "reply": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventThreadCancelled,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["thread_id"],
  "properties": {
    "thread_id": {"type": "string", "minLength": 1}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventThreadProgress,
		Version:   PayloadV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["thread_id", "node", "status"],
  "properties": {
    "thread_id": {"type": "string", "minLength": 1},
    "node": {"type": "string"},
    "status": {"type": "string", "enum": ["running", "suspended", "completed", "failed", "cancelled"]},
    "detail": {"type": "string"},
    "percent": {"type": "number", "minimum": 0, "maximum": 100},
    "at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
}

// DefaultRegistry returns a registry with the thread event schemas loaded.
func DefaultRegistry() (*SchemaRegistry, error) {
	return NewSchemaRegistry(baseDefinitions...)
}
