package session

// DataState tracks the control data channel lifecycle for one peer.
// Connecting may move straight to Closed when negotiation fails.
type DataState int

const (
	DataConnecting DataState = iota
	DataOpen
	DataClosed
)

func (s DataState) String() string {
	switch s {
	case DataConnecting:
		return "connecting"
	case DataOpen:
		return "open"
	default:
		return "closed"
	}
}

// MediaState tracks the audio leg independently of the data channel; the two
// inbound negotiations are not guaranteed to settle in any particular order.
type MediaState int

const (
	MediaNone MediaState = iota
	MediaNegotiating
	MediaStreaming
	MediaClosed
)

func (s MediaState) String() string {
	switch s {
	case MediaNone:
		return "none"
	case MediaNegotiating:
		return "negotiating"
	case MediaStreaming:
		return "streaming"
	default:
		return "closed"
	}
}
