package rendezvous

import (
	"github.com/pion/webrtc/v4"
)

// Signal types routed through the broker. Control types (welcome, error,
// peer-unavailable) originate at the broker itself; the rest are relayed
// verbatim between peers.
const (
	SignalWelcome         = "welcome"
	SignalError           = "error"
	SignalOffer           = "offer"
	SignalAnswer          = "answer"
	SignalCandidate       = "candidate"
	SignalBye             = "bye"
	SignalPeerUnavailable = "peer-unavailable"
	// SignalBrokerLost is synthesized locally when the broker link drops.
	SignalBrokerLost = "broker-lost"
)

// Signal is the envelope exchanged with the rendezvous broker.
type Signal struct {
	Type      string                     `json:"type"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Text      string                     `json:"text,omitempty"`
}
