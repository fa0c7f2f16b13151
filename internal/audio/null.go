package audio

import "github.com/jamlink-audio/jamlink/internal/session"

// NullBridge stands in when audio is disabled by configuration. It reports
// no local stream, so joins fail until a real bridge is attached.
type NullBridge struct{}

func NewNullBridge() *NullBridge { return &NullBridge{} }

func (*NullBridge) Ready() bool { return false }

func (*NullBridge) Settings() session.AudioSettings { return session.AudioSettings{} }

func (*NullBridge) CaptureFrames() <-chan []int16 { return nil }

func (*NullBridge) PushPlayback([]int16) {}

func (*NullBridge) Close() error { return nil }
