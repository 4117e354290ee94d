package models

import (
	"errors"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"with payload", Event(TypeMessageCreate, MessageCreatePayload{ChannelID: "global", Content: "hi"})},
		{"empty payload", Event(TypeStopTyping, TypingPayload{})},
		{"no payload", Envelope{Type: TypeCallEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := DecodeEnvelope(data)
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}
			if got.Type != tt.env.Type {
				t.Errorf("Type = %q, want %q", got.Type, tt.env.Type)
			}
			if string(got.Payload) != string(tt.env.Payload) {
				t.Errorf("Payload = %s, want %s", got.Payload, tt.env.Payload)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsBadFrames(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"payload":{}}`)); !errors.Is(err, ErrEmptyType) {
		t.Errorf("missing type error = %v, want ErrEmptyType", err)
	}
	if _, err := DecodeEnvelope([]byte(`{"type":`)); err == nil {
		t.Error("truncated JSON decoded without error")
	}
}

func TestDecodePayloadMissingIsZero(t *testing.T) {
	var p TypingPayload
	if err := (Envelope{Type: TypeStartTyping}).DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.ChannelID != "" {
		t.Errorf("ChannelID = %q, want empty", p.ChannelID)
	}
}

func TestRegisterPayloadSentID(t *testing.T) {
	tests := []struct {
		name    string
		payload UserRegisterPayload
		want    string
	}{
		{"userId wins", UserRegisterPayload{UserID: "a", UserCode: "b"}, "a"},
		{"userCode fallback", UserRegisterPayload{UserCode: "b"}, "b"},
		{"neither", UserRegisterPayload{Username: "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.SentID(); got != tt.want {
				t.Errorf("SentID() = %q, want %q", got, tt.want)
			}
		})
	}
}
