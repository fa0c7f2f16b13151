package session

import (
	"encoding/json"
	"errors"
)

// Data-channel message types exchanged between two connected peers.
const (
	WireAudioSettings = "audio-settings"
	WireLatencyPing   = "latency-ping"
	WireLatencyPong   = "latency-pong"
	WireChat          = "chat"
)

// AudioSettings is sent once when the data channel opens, informational only.
type AudioSettings struct {
	SampleRate  int    `json:"sampleRate"`
	BufferSize  int    `json:"bufferSize"`
	BitDepth    int    `json:"bitDepth"`
	DeviceLabel string `json:"deviceLabel"`
}

// WireMessage is the envelope carried over the peer data channel. The pong
// echoes the ping's id and timestamp unchanged, so only the requester's
// clock is ever consulted.
type WireMessage struct {
	Type      string         `json:"type"`
	Settings  *AudioSettings `json:"settings,omitempty"`
	PingID    string         `json:"pingId,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Message   string         `json:"message,omitempty"`
}

func ParseWireMessage(raw []byte) (*WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errors.New("missing wire message type")
	}
	return &msg, nil
}

func (m *WireMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
