package session

import (
	"context"

	"github.com/jamlink-audio/jamlink/internal/quality"
	"github.com/jamlink-audio/jamlink/internal/rendezvous"
)

// Signaler is the only surface the registry needs from the rendezvous layer.
type Signaler interface {
	Open(ctx context.Context, desiredID string) (string, error)
	Send(to string, sig rendezvous.Signal) error
	Close() error
}

// MediaBridge is the local capture/playback collaborator. A bridge that is
// not Ready blocks joins until an input stream exists.
type MediaBridge interface {
	Ready() bool
	Settings() AudioSettings
	CaptureFrames() <-chan []int16
	PushPlayback(samples []int16)
}

// Display receives user-visible updates: status text, the peer list and
// per-peer quality readings. Implemented by the control API event hub, the
// persistence recorder and the webhook notifier.
type Display interface {
	SetStatus(text string)
	AddPeer(peerID string)
	RemovePeer(peerID string)
	UpdateQuality(peerID string, s quality.Sample)
	Chat(peerID, message string)
}

// FanoutDisplay forwards every update to each member display.
type FanoutDisplay []Display

func (f FanoutDisplay) SetStatus(text string) {
	for _, d := range f {
		d.SetStatus(text)
	}
}

func (f FanoutDisplay) AddPeer(peerID string) {
	for _, d := range f {
		d.AddPeer(peerID)
	}
}

func (f FanoutDisplay) RemovePeer(peerID string) {
	for _, d := range f {
		d.RemovePeer(peerID)
	}
}

func (f FanoutDisplay) UpdateQuality(peerID string, s quality.Sample) {
	for _, d := range f {
		d.UpdateQuality(peerID, s)
	}
}

func (f FanoutDisplay) Chat(peerID, message string) {
	for _, d := range f {
		d.Chat(peerID, message)
	}
}

// LinkEvents are the callbacks a Link fires into the registry. Every
// callback re-checks registry membership before mutating state; a link can
// outlive its registry entry by one scheduled event.
type LinkEvents struct {
	OnDataOpen    func()
	OnDataClosed  func()
	OnDataMessage func(raw []byte)
	OnTrack       func()
	OnFailed      func()
}

// Link is one negotiated peer transport: a control data channel plus an
// audio leg.
type Link interface {
	SendData(msg *WireMessage) error
	HandleSignal(sig rendezvous.Signal) error
	StatsRTT() (rttMs float64, ok bool)
	WriteAudio(samples []int16) error
	Close() error
}

// Transport creates Links. Dial starts an outbound negotiation, Accept
// prepares for a remote-initiated offer.
type Transport interface {
	Dial(peerID string, ev LinkEvents) (Link, error)
	Accept(peerID string, ev LinkEvents) (Link, error)
}
