//go:build noaudio

package audio

import (
	"errors"

	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/internal/session"
)

// Bridge stub for builds without PortAudio.
type Bridge struct{}

func NewBridge(config.AudioConfig) (*Bridge, error) {
	return nil, errors.New("built without audio support")
}

func (b *Bridge) Start() error { return nil }

func (b *Bridge) Ready() bool { return false }

func (b *Bridge) Settings() session.AudioSettings { return session.AudioSettings{} }

func (b *Bridge) CaptureFrames() <-chan []int16 { return nil }

func (b *Bridge) PushPlayback([]int16) {}

func (b *Bridge) Close() error { return nil }
