package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// MessageType identifies a signaling envelope kind.
type MessageType string

const (
	TypeJoin      MessageType = "join"
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeChat      MessageType = "chat"
	TypeLeave     MessageType = "leave"

	// Server-generated envelope types.
	TypePeers MessageType = "peers"
	TypeError MessageType = "error"
)

// TargetAll is the broadcast sentinel for Envelope.Target.
const TargetAll = "all"

var (
	// ErrValidation means a malformed envelope: unknown type, missing field or
	// unparseable payload. The envelope is dropped and the sender may be notified.
	ErrValidation = errors.New("invalid envelope")
	// ErrUnknownTarget means an offer/answer addressed a peer not present in
	// the room. The envelope is dropped and logged.
	ErrUnknownTarget = errors.New("unknown target peer")
)

// Envelope is the transient signaling message relayed between peers. It is
// never stored; the payload is opaque to routing and only inspected for
// validation.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Sender    string          `json:"sender"`
	Target    string          `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix millis
}

// PeersPayload is the payload of the server's initial "peers" envelope.
type PeersPayload struct {
	Peers []string `json:"peers"`
}

// ErrorPayload is the payload of server "error" envelopes.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Validate checks the envelope shape before routing. Offer and answer payloads
// must be a WebRTC session description, candidate payloads an ICE candidate;
// the SDP itself stays opaque beyond that.
func (e *Envelope) Validate() error {
	if e.Sender == "" {
		return fmt.Errorf("%w: sender required", ErrValidation)
	}
	switch e.Type {
	case TypeJoin, TypeLeave:
		return nil
	case TypeChat:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: chat payload required", ErrValidation)
		}
		return nil
	case TypeOffer, TypeAnswer:
		if e.Target == "" || e.Target == TargetAll {
			return fmt.Errorf("%w: %s requires a unicast target", ErrValidation, e.Type)
		}
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(e.Payload, &sdp); err != nil || sdp.SDP == "" {
			return fmt.Errorf("%w: %s payload is not a session description", ErrValidation, e.Type)
		}
		return nil
	case TypeCandidate:
		if e.Target == "" || e.Target == TargetAll {
			return fmt.Errorf("%w: candidate requires a unicast target", ErrValidation)
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(e.Payload, &cand); err != nil {
			return fmt.Errorf("%w: candidate payload is not an ICE candidate", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrValidation, e.Type)
	}
}

// Critical reports whether the envelope must never be dropped by outbound
// queue overflow (offer/answer; a lost candidate or chat line is recoverable).
func (e *Envelope) Critical() bool {
	return e.Type == TypeOffer || e.Type == TypeAnswer
}
