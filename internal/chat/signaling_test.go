package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"parley/internal/models"
)

func newRelayFixture() (*Relay, *Registry) {
	registry := NewRegistry(testLogger(), nil)
	return NewRelay(registry, nil, testLogger()), registry
}

func TestForwardOffer(t *testing.T) {
	relay, registry := newRelayFixture()
	bob := &mockConn{}
	registry.Register("bob", bob)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1"}`)
	err := relay.Forward(models.TypeCallOffer, "alice", models.CallPayload{
		TargetUserID: "bob",
		CallType:     "video",
		SDP:          sdp,
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	incoming := bob.typed(models.EventIncomingCall)
	if len(incoming) != 1 {
		t.Fatalf("bob saw %d INCOMING_CALL events, want 1", len(incoming))
	}
	var payload models.CallEventPayload
	if err := incoming[0].DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if payload.FromUserID != "alice" || payload.CallType != "video" {
		t.Errorf("payload = %+v, want video call from alice", payload)
	}
	if !bytes.Equal(payload.SDP, sdp) {
		t.Errorf("SDP was not relayed verbatim: %s", payload.SDP)
	}
}

func TestForwardEventMapping(t *testing.T) {
	tests := []struct {
		frame string
		event string
	}{
		{models.TypeCallOffer, models.EventIncomingCall},
		{models.TypeCallAnswer, models.EventCallAnswered},
		{models.TypeICECandidate, models.TypeICECandidate},
		{models.TypeCallEnd, models.EventCallEnded},
	}
	for _, tt := range tests {
		relay, registry := newRelayFixture()
		bob := &mockConn{}
		registry.Register("bob", bob)

		if err := relay.Forward(tt.frame, "alice", models.CallPayload{TargetUserID: "bob"}); err != nil {
			t.Errorf("Forward(%s) error = %v", tt.frame, err)
			continue
		}
		if got := bob.types(); len(got) != 1 || got[0] != tt.event {
			t.Errorf("Forward(%s) delivered %v, want [%s]", tt.frame, got, tt.event)
		}
	}
}

func TestForwardOfflineTarget(t *testing.T) {
	relay, _ := newRelayFixture()

	err := relay.Forward(models.TypeCallOffer, "alice", models.CallPayload{TargetUserID: "bob"})
	if !errors.Is(err, ErrTargetOffline) {
		t.Errorf("Forward() to offline target error = %v, want ErrTargetOffline", err)
	}
}

func TestForwardMissingTarget(t *testing.T) {
	relay, _ := newRelayFixture()

	err := relay.Forward(models.TypeCallOffer, "alice", models.CallPayload{})
	if !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Forward() without target error = %v, want ErrUnknownUser", err)
	}
}

func TestForwardRejectsNonSignalFrames(t *testing.T) {
	relay, registry := newRelayFixture()
	registry.Register("bob", &mockConn{})

	if err := relay.Forward(models.TypeMessageCreate, "alice", models.CallPayload{TargetUserID: "bob"}); err == nil {
		t.Error("Forward() accepted a non-signaling frame type")
	}
}

func TestForwardCandidatesInOrder(t *testing.T) {
	relay, registry := newRelayFixture()
	bob := &mockConn{}
	registry.Register("bob", bob)

	for i := 0; i < 3; i++ {
		candidate, _ := json.Marshal(map[string]int{"sdpMLineIndex": i})
		if err := relay.Forward(models.TypeICECandidate, "alice", models.CallPayload{
			TargetUserID: "bob",
			Candidate:    candidate,
		}); err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
	}

	got := bob.typed(models.TypeICECandidate)
	if len(got) != 3 {
		t.Fatalf("bob saw %d candidates, want 3", len(got))
	}
	for i, env := range got {
		var payload models.CallEventPayload
		env.DecodePayload(&payload)
		var candidate struct {
			Index int `json:"sdpMLineIndex"`
		}
		json.Unmarshal(payload.Candidate, &candidate)
		if candidate.Index != i {
			t.Errorf("candidate %d arrived out of order: %d", i, candidate.Index)
		}
	}
}
