package ingest

import (
	"testing"
)

func TestDecodeEnvelopesSingleObject(t *testing.T) {
	t.Parallel()

	envelopes, err := DecodeEnvelopes([]byte(`{"type": "pokemon", "message": {"encounter_id": "enc-1"}}`))
	if err != nil {
		t.Fatalf("decode single envelope: %v", err)
	}
	if len(envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(envelopes))
	}
	if envelopes[0].Type != "pokemon" {
		t.Fatalf("unexpected type %q", envelopes[0].Type)
	}
	if envelopes[0].Message["encounter_id"] != "enc-1" {
		t.Fatalf("unexpected message %+v", envelopes[0].Message)
	}
}

func TestDecodeEnvelopesArray(t *testing.T) {
	t.Parallel()

	body := `[
		{"type": "pokemon", "message": {}},
		{"type": "raid", "message": {}}
	]`
	envelopes, err := DecodeEnvelopes([]byte(body))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(envelopes) != 2 || envelopes[1].Type != "raid" {
		t.Fatalf("unexpected batch %+v", envelopes)
	}
}

func TestDecodeEnvelopesRejections(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty payload":   "",
		"whitespace only": "  \n ",
		"empty batch":     "[]",
		"trailing tokens": `{"type": "pokemon", "message": {}} {"type": "raid"}`,
		"trailing array":  `[{"type": "pokemon", "message": {}}] []`,
		"malformed json":  `{"type": `,
	}
	for name, body := range cases {
		if _, err := DecodeEnvelopes([]byte(body)); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}
