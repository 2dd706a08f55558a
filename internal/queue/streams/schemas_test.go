package streams

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestThreadSchemasValidate(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}

	requested, _ := json.Marshal(ThreadRequested{ThreadID: "t1", Request: "EV market", Trigger: "api"})
	if err := reg.Validate(EventThreadRequested, PayloadV1, requested); err != nil {
		t.Fatalf("expected thread.requested to validate: %v", err)
	}
	resumed, _ := json.Marshal(ThreadResumed{ThreadID: "t1", Reply: "[ACCEPTED]"})
	if err := reg.Validate(EventThreadResumed, PayloadV1, resumed); err != nil {
		t.Fatalf("expected thread.resumed to validate: %v", err)
	}
	cancelled, _ := json.Marshal(ThreadCancelled{ThreadID: "t1"})
	if err := reg.Validate(EventThreadCancelled, PayloadV1, cancelled); err != nil {
		t.Fatalf("expected thread.cancelled to validate: %v", err)
	}
	progress, _ := json.Marshal(ThreadProgress{ThreadID: "t1", Node: "reporter", Status: "running", Percent: 42.5, At: time.Now().UTC()})
	if err := reg.Validate(EventThreadProgress, PayloadV1, progress); err != nil {
		t.Fatalf("expected thread.progress to validate: %v", err)
	}
}

func TestThreadSchemasReject(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}

	cases := []struct {
		name      string
		eventType string
		payload   string
	}{
		{"missing request", EventThreadRequested, `{"thread_id":"t1","trigger":"api"}`},
		{"unknown trigger", EventThreadRequested, `{"thread_id":"t1","request":"x","trigger":"email"}`},
		{"empty thread id", EventThreadCancelled, `{"thread_id":""}`},
		{"bad status", EventThreadProgress, `{"thread_id":"t1","node":"planner","status":"paused"}`},
		{"percent out of range", EventThreadProgress, `{"thread_id":"t1","node":"reporter","status":"running","percent":140}`},
	}
	for _, tc := range cases {
		if err := reg.Validate(tc.eventType, PayloadV1, []byte(tc.payload)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", tc.name, err)
		}
	}
	if err := reg.Validate(EventThreadCancelled, PayloadV1, []byte(`not json`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for malformed json, got %v", err)
	}
	if err := reg.Validate("thread.unknown", PayloadV1, []byte(`{}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for unregistered event type, got %v", err)
	}
	if err := reg.Validate(EventThreadCancelled, "v9", []byte(`{"thread_id":"t1"}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for unknown version, got %v", err)
	}
}

func TestSchemaRegistryRegister(t *testing.T) {
	if _, err := NewSchemaRegistry(Definition{EventType: EventThreadCancelled, Version: PayloadV1, Schema: []byte(`{"type": 12}`)}); err == nil {
		t.Fatalf("expected compile error for a malformed schema")
	}
	if _, err := NewSchemaRegistry(Definition{EventType: EventThreadCancelled, Schema: []byte(`{}`)}); err == nil {
		t.Fatalf("expected error for a definition without version")
	}

	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	v2 := Definition{EventType: EventThreadCancelled, Version: "v2", Schema: []byte(`{"type":"object","required":["thread_id","reason"]}`)}
	if err := reg.Register(v2); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Validate(EventThreadCancelled, "v2", []byte(`{"thread_id":"t1"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected v2 to require a reason, got %v", err)
	}
	if err := reg.Validate(EventThreadCancelled, PayloadV1, []byte(`{"thread_id":"t1"}`)); err != nil {
		t.Fatalf("v1 should be unaffected: %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventThreadResumed, ThreadResumed{ThreadID: "t1", Reply: "edit: add pricing"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if _, err := env.Marshal(); err == nil {
		t.Fatalf("expected missing event_id to fail")
	}
	env.EventID = "evt-1"
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.PayloadVersion != PayloadV1 || got.OccurredAt.IsZero() {
		t.Fatalf("unexpected envelope %+v", got)
	}
	var payload ThreadResumed
	if err := got.Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.Reply != "edit: add pricing" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, err := UnmarshalEnvelope([]byte(`{"event_id":"x"}`)); err == nil {
		t.Fatalf("expected missing fields to fail")
	}
}
