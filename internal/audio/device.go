//go:build !noaudio

package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/jamlink-audio/jamlink/internal/config"
)

type audioDevice struct {
	In  *portaudio.DeviceInfo
	Out *portaudio.DeviceInfo
}

// pickAudioDevice selects capture and playback devices, preferring the
// configured names, falling back to the first device with matching channels.
func pickAudioDevice(cfg config.AudioConfig) (*audioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.New("no audio devices from PortAudio")
	}

	normalize := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	inKeyword := normalize(cfg.InputDeviceName)
	outKeyword := normalize(cfg.OutputDeviceName)

	var inDevice, outDevice *portaudio.DeviceInfo
	for _, d := range devices {
		name := normalize(d.Name)
		if d.MaxInputChannels > 0 {
			if inKeyword != "" && strings.Contains(name, inKeyword) {
				inDevice = d
			} else if inDevice == nil && inKeyword == "" {
				inDevice = d
			}
		}
		if d.MaxOutputChannels > 0 {
			if outKeyword != "" && strings.Contains(name, outKeyword) {
				outDevice = d
			} else if outDevice == nil && outKeyword == "" {
				outDevice = d
			}
		}
	}

	if inDevice == nil || outDevice == nil {
		return nil, fmt.Errorf("cannot find audio devices (input=%q output=%q)",
			cfg.InputDeviceName, cfg.OutputDeviceName)
	}

	return &audioDevice{In: inDevice, Out: outDevice}, nil
}
