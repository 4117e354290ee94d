package chat

import (
	"fmt"
	"log/slog"

	"parley/internal/metrics"
	"parley/internal/models"
)

// relayedEvents maps each inbound signaling frame to the event its
// target receives.
var relayedEvents = map[string]string{
	models.TypeCallOffer:    models.EventIncomingCall,
	models.TypeCallAnswer:   models.EventCallAnswered,
	models.TypeICECandidate: models.TypeICECandidate,
	models.TypeCallEnd:      models.EventCallEnded,
}

// Relay forwards WebRTC signaling between two users. It keeps no call
// state and never reads the SDP or candidate blobs; the peers negotiate
// everything themselves.
type Relay struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewRelay(registry *Registry, m *metrics.Metrics, log *slog.Logger) *Relay {
	return &Relay{registry: registry, metrics: m, log: log}
}

// Forward delivers one signaling frame to its target, substituting the
// sender for the target in the payload. An unreachable target surfaces
// as ErrTargetOffline so the caller's client can abort the call.
func (r *Relay) Forward(frameType, fromID string, payload models.CallPayload) error {
	event, ok := relayedEvents[frameType]
	if !ok {
		return fmt.Errorf("chat: not a signaling frame: %s", frameType)
	}
	if payload.TargetUserID == "" {
		return ErrUnknownUser
	}

	env := models.Event(event, models.CallEventPayload{
		FromUserID: fromID,
		CallType:   payload.CallType,
		SDP:        payload.SDP,
		Candidate:  payload.Candidate,
	})
	if !r.registry.Deliver(payload.TargetUserID, env) {
		return ErrTargetOffline
	}

	r.metrics.CallSignal(frameType)
	r.log.Debug("signal relayed", "kind", frameType, "from", fromID, "to", payload.TargetUserID)
	return nil
}
