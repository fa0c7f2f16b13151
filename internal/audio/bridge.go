//go:build !noaudio

package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/internal/session"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

// Bridge is the local media leg: a PortAudio capture stream feeding the
// peer fan-out and a playback stream fed by decoded remote audio.
type Bridge struct {
	cfg config.AudioConfig

	inStream  *portaudio.Stream
	outStream *portaudio.Stream
	inBuf     []int16
	outBuf    []int16

	deviceLabel string
	playbackIn  *int16Ring

	captureFrameCh chan []int16

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewBridge(cfg config.AudioConfig) (*Bridge, error) {
	if cfg.SampleRate <= 0 || cfg.Channels != 1 || cfg.BitsPerSample != 16 {
		return nil, errors.New("audio config must be mono/16bit/valid rate")
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	device, err := pickAudioDevice(cfg)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	logger.Log.Infof("Audio input device: %s", device.In.Name)
	logger.Log.Infof("Audio output device: %s", device.Out.Name)

	inParams := portaudio.HighLatencyParameters(device.In, nil)
	inParams.SampleRate = float64(cfg.SampleRate)
	inParams.Input.Channels = 1
	inParams.FramesPerBuffer = cfg.CaptureSamples()
	inBuf := make([]int16, inParams.FramesPerBuffer)
	inStream, err := portaudio.OpenStream(inParams, inBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	outParams := portaudio.HighLatencyParameters(nil, device.Out)
	outParams.SampleRate = float64(cfg.SampleRate)
	outParams.Output.Channels = 1
	outParams.FramesPerBuffer = cfg.PlaybackSamples()
	outBuf := make([]int16, outParams.FramesPerBuffer)
	outStream, err := portaudio.OpenStream(outParams, &outBuf)
	if err != nil {
		_ = inStream.Close()
		_ = portaudio.Terminate()
		return nil, err
	}

	b := &Bridge{
		cfg:            cfg,
		inStream:       inStream,
		outStream:      outStream,
		inBuf:          inBuf,
		outBuf:         outBuf,
		deviceLabel:    device.In.Name,
		playbackIn:     newInt16Ring(cfg.SampleRate * 3),
		captureFrameCh: make(chan []int16, 128),
		stopCh:         make(chan struct{}),
	}

	return b, nil
}

func (b *Bridge) Start() error {
	if err := b.inStream.Start(); err != nil {
		return err
	}
	if err := b.outStream.Start(); err != nil {
		_ = b.inStream.Stop()
		return err
	}

	b.wg.Add(2)
	go b.captureLoop(b.inBuf)
	go b.playbackLoop(b.outBuf)
	return nil
}

// Ready reports whether a local stream exists. The PortAudio bridge is ready
// once constructed.
func (b *Bridge) Ready() bool {
	return true
}

// Settings describes the local capture leg for the audio-settings exchange.
func (b *Bridge) Settings() session.AudioSettings {
	return session.AudioSettings{
		SampleRate:  b.cfg.SampleRate,
		BufferSize:  b.cfg.CaptureSamples(),
		BitDepth:    b.cfg.BitsPerSample,
		DeviceLabel: b.deviceLabel,
	}
}

func (b *Bridge) CaptureFrames() <-chan []int16 {
	return b.captureFrameCh
}

// PushPlayback queues decoded remote samples for the output device.
func (b *Bridge) PushPlayback(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.playbackIn.Write(samples)
}

func (b *Bridge) Close() error {
	var closeErr error
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.playbackIn.Close()
		b.wg.Wait()
		close(b.captureFrameCh)

		_ = b.inStream.Stop()
		_ = b.outStream.Stop()
		if err := b.inStream.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := b.outStream.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := portaudio.Terminate(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}

func (b *Bridge) captureLoop(buf []int16) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		if err := b.inStream.Read(); err != nil {
			logger.Log.Warnf("Capture read error: %v", err)
			time.Sleep(20 * time.Millisecond)
			continue
		}

		frame := make([]int16, len(buf))
		copy(frame, buf)

		select {
		case b.captureFrameCh <- frame:
		default:
		}
	}
}

func (b *Bridge) playbackLoop(buf []int16) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		n, ok := b.playbackIn.ReadPartial(buf)
		if !ok {
			return
		}
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}

		if err := b.outStream.Write(); err != nil {
			logger.Log.Warnf("Playback write error: %v", err)
			time.Sleep(20 * time.Millisecond)
		}
	}
}
