package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"data", Envelope{
			Kind:            KindData,
			MessageID:       "7b1c2a9e-0000-4000-8000-000000000001",
			SenderID:        "node-a",
			RecipientID:     "node-b",
			Scope:           "messaging",
			CreatedAtMillis: 1767225600000,
			Payload:         []byte("hello"),
		}},
		{"ack_no_payload", Envelope{
			Kind:        KindAck,
			MessageID:   "7b1c2a9e-0000-4000-8000-000000000001",
			SenderID:    "node-b",
			RecipientID: "node-a",
		}},
		{"heartbeat", Envelope{
			Kind:            KindHeartbeat,
			SenderID:        "node-a",
			CreatedAtMillis: 42,
		}},
		{"advert", Envelope{
			Kind:     KindAdvert,
			SenderID: "node-a",
			Scope:    "family-1",
			Payload:  []byte{0x04, 0x00, 0x00},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.env.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.Kind != tt.env.Kind ||
				got.MessageID != tt.env.MessageID ||
				got.SenderID != tt.env.SenderID ||
				got.RecipientID != tt.env.RecipientID ||
				got.Scope != tt.env.Scope ||
				got.CreatedAtMillis != tt.env.CreatedAtMillis ||
				!bytes.Equal(got.Payload, tt.env.Payload) {
				t.Errorf("round-trip mismatch: got %+v, want %+v", got, tt.env)
			}
		})
	}
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	env := Envelope{Kind: 0x7f}
	if _, err := env.Encode(); err == nil {
		t.Error("Encode should fail for unknown kind")
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	env := Envelope{Kind: KindData, MessageID: strings.Repeat("x", 2048)}
	if _, err := env.Encode(); err == nil {
		t.Error("Encode should fail for oversized field")
	}

	env = Envelope{Kind: KindData, Payload: make([]byte, 65*1024)}
	if _, err := env.Encode(); err == nil {
		t.Error("Encode should fail for oversized payload")
	}
}

func TestDecodeTruncatedFrames(t *testing.T) {
	env := Envelope{
		Kind:      KindData,
		MessageID: "m1",
		SenderID:  "a",
		Payload:   []byte("payload"),
	}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Every truncation point must produce an error, never a panic.
	for i := 0; i < len(raw); i++ {
		if _, err := Decode(raw[:i]); err == nil {
			t.Errorf("Decode should fail for truncated frame of %d bytes", i)
		}
	}
}

func TestAdvertRoundTrip(t *testing.T) {
	a := Advert{Capabilities: 0x05, DisplayName: "Sonny Phone"}
	raw, err := BuildAdvert(a)
	if err != nil {
		t.Fatalf("BuildAdvert failed: %v", err)
	}
	got, err := ParseAdvert(raw)
	if err != nil {
		t.Fatalf("ParseAdvert failed: %v", err)
	}
	if got.Capabilities != a.Capabilities || got.DisplayName != a.DisplayName {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, a)
	}
}

func TestParseAdvertTooShort(t *testing.T) {
	if _, err := ParseAdvert([]byte{0x01}); err == nil {
		t.Error("ParseAdvert should fail for short payload")
	}
	// Name length claims more bytes than present
	if _, err := ParseAdvert([]byte{0x01, 0x05, 0x00, 'a'}); err == nil {
		t.Error("ParseAdvert should fail for truncated name")
	}
}
