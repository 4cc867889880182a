package signaling

import "fmt"

// Delivery is one outbound envelope addressed to a concrete peer.
type Delivery struct {
	PeerID   string
	Envelope Envelope
}

// Route maps a validated inbound envelope to zero or more deliveries against a
// snapshot of the room's peers. It is a pure function: no registry access, no
// side effects. The sender is always excluded from broadcasts.
//
//	join      broadcast presence to the other peers
//	offer     unicast; target must be present, else ErrUnknownTarget
//	answer    unicast, same precondition as offer
//	candidate unicast, best-effort: absent target drops silently
//	chat      broadcast to everyone but the sender
//	leave     broadcast; the caller deregisters afterwards
func Route(env Envelope, peers []string) ([]Delivery, error) {
	switch env.Type {
	case TypeJoin, TypeChat, TypeLeave:
		var out []Delivery
		for _, p := range peers {
			if p == env.Sender {
				continue
			}
			out = append(out, Delivery{PeerID: p, Envelope: env})
		}
		return out, nil
	case TypeOffer, TypeAnswer:
		if !contains(peers, env.Target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownTarget, env.Type, env.Target)
		}
		return []Delivery{{PeerID: env.Target, Envelope: env}}, nil
	case TypeCandidate:
		// Candidates arriving after the target tore down are expected; drop.
		if !contains(peers, env.Target) {
			return nil, nil
		}
		return []Delivery{{PeerID: env.Target, Envelope: env}}, nil
	default:
		return nil, fmt.Errorf("%w: unroutable type %q", ErrValidation, env.Type)
	}
}

func contains(peers []string, id string) bool {
	for _, p := range peers {
		if p == id {
			return true
		}
	}
	return false
}
