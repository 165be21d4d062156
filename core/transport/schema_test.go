package transport

import (
	"bytes"
	"slices"
	"testing"
)

func TestSchemasCoverPayloads(t *testing.T) {
	schemas := Schemas()

	if _, ok := schemas[envelopeSchemaKey]; !ok {
		t.Fatalf("expected envelope schema")
	}

	sessionStart, ok := schemas[TypeSessionStart]
	if !ok {
		t.Fatalf("expected %s schema", TypeSessionStart)
	}
	for _, field := range []string{"session_id", "user_id", "profile_id"} {
		if !slices.Contains(sessionStart.Required, field) {
			t.Fatalf("expected %s to be required, got %v", field, sessionStart.Required)
		}
	}
	if slices.Contains(sessionStart.Required, "developer_prompt") {
		t.Fatalf("expected developer_prompt to be optional")
	}
}

func TestSchemaJSON(t *testing.T) {
	out, err := SchemaJSON()
	if err != nil {
		t.Fatalf("expected schema to render, got %v", err)
	}
	if !bytes.Contains(out, []byte(`"possibleEvents"`)) {
		t.Fatalf("expected announce payload in rendered schema")
	}
}
