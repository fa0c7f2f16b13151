// Package transport implements the session.Transport contract on top of
// Pion WebRTC: one PeerConnection per peer carrying a control data channel
// and a G.711 audio leg.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/jamlink-audio/jamlink/internal/audio"
	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/internal/rendezvous"
	"github.com/jamlink-audio/jamlink/internal/session"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

const dataChannelLabel = "jamlink-control"

// Engine holds the shared Pion API: registered audio codecs and the
// configured ICE/UDP settings.
type Engine struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewEngine(cfg config.SessionConfig) (*Engine, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	setting := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 || cfg.UDPPortMax > 0 {
		if err := setting.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(setting))

	iceServers := make([]webrtc.ICEServer, 0, 1)
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	return &Engine{
		api: api,
		cfg: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

// PionTransport creates peer links, sending negotiation envelopes through
// the rendezvous signaler and delivering decoded remote audio to playback.
type PionTransport struct {
	engine   *Engine
	sig      session.Signaler
	playback func([]int16)
}

func NewPionTransport(engine *Engine, sig session.Signaler, playback func([]int16)) *PionTransport {
	return &PionTransport{engine: engine, sig: sig, playback: playback}
}

func (t *PionTransport) Dial(peerID string, ev session.LinkEvents) (session.Link, error) {
	l, err := t.newLink(peerID, ev)
	if err != nil {
		return nil, err
	}

	dc, err := l.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = l.pc.Close()
		return nil, err
	}
	l.attachDataChannel(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		_ = l.pc.Close()
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		_ = l.pc.Close()
		return nil, err
	}
	if err := t.sig.Send(peerID, rendezvous.Signal{Type: rendezvous.SignalOffer, Offer: &offer}); err != nil {
		_ = l.pc.Close()
		return nil, err
	}

	return l, nil
}

func (t *PionTransport) Accept(peerID string, ev session.LinkEvents) (session.Link, error) {
	l, err := t.newLink(peerID, ev)
	if err != nil {
		return nil, err
	}

	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			logger.Log.Debugf("transport: ignoring unexpected data channel %q from %s", dc.Label(), peerID)
			return
		}
		l.attachDataChannel(dc)
	})

	return l, nil
}

// newLink builds the PeerConnection shared by both negotiation directions:
// local PCMU track, sendrecv audio transceiver, ICE and state plumbing.
func (t *PionTransport) newLink(peerID string, ev session.LinkEvents) (*pionLink, error) {
	pc, err := t.engine.api.NewPeerConnection(t.engine.cfg)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		"audio",
		"jamlink",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	l := &pionLink{
		peerID:   peerID,
		pc:       pc,
		track:    track,
		sig:      t.sig,
		playback: t.playback,
		ev:       ev,
		seq:      1,
	}

	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, readErr := sender.Read(rtcpBuf); readErr != nil {
				return
			}
		}
	}()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnTrack(func(trackRemote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if trackRemote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logger.Log.Infof("Remote audio track from %s codec=%s", peerID, trackRemote.Codec().RTPCodecCapability.MimeType)
		if ev.OnTrack != nil {
			ev.OnTrack()
		}
		for {
			pkt, _, readErr := trackRemote.ReadRTP()
			if readErr != nil {
				return
			}
			samples, decodeErr := decodeRemotePayload(trackRemote.Codec().RTPCodecCapability.MimeType, pkt.Payload)
			if decodeErr != nil {
				logger.Log.Debugf("transport: decode remote payload from %s failed: %v", peerID, decodeErr)
				continue
			}
			if l.playback != nil {
				l.playback(samples)
			}
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := t.sig.Send(peerID, rendezvous.Signal{Type: rendezvous.SignalCandidate, Candidate: &init}); err != nil {
			logger.Log.Warnf("Sending ICE candidate to %s failed: %v", peerID, err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Log.Infof("Peer %s connection state: %s", peerID, state.String())
		if state == webrtc.PeerConnectionStateFailed {
			if ev.OnFailed != nil {
				ev.OnFailed()
			}
		}
	})

	return l, nil
}

type pionLink struct {
	peerID   string
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticRTP
	sig      session.Signaler
	playback func([]int16)
	ev       session.LinkEvents

	dcMu sync.Mutex
	dc   *webrtc.DataChannel

	candMu  sync.Mutex
	pending []webrtc.ICECandidateInit
	haveRem bool

	sendMu sync.Mutex
	seq    uint16
	ts     uint32
}

func (l *pionLink) attachDataChannel(dc *webrtc.DataChannel) {
	l.dcMu.Lock()
	l.dc = dc
	l.dcMu.Unlock()

	dc.OnOpen(func() {
		if l.ev.OnDataOpen != nil {
			l.ev.OnDataOpen()
		}
	})
	dc.OnClose(func() {
		if l.ev.OnDataClosed != nil {
			l.ev.OnDataClosed()
		}
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		if l.ev.OnDataMessage != nil {
			l.ev.OnDataMessage(m.Data)
		}
	})
}

func (l *pionLink) SendData(msg *session.WireMessage) error {
	l.dcMu.Lock()
	dc := l.dc
	l.dcMu.Unlock()
	if dc == nil {
		return errors.New("data channel not attached")
	}
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel %s", dc.ReadyState().String())
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	return dc.SendText(string(raw))
}

func (l *pionLink) HandleSignal(sig rendezvous.Signal) error {
	switch sig.Type {
	case rendezvous.SignalOffer:
		if sig.Offer == nil {
			return errors.New("offer signal without description")
		}
		if err := l.setRemoteDescription(*sig.Offer); err != nil {
			return err
		}
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		return l.sig.Send(l.peerID, rendezvous.Signal{Type: rendezvous.SignalAnswer, Answer: &answer})
	case rendezvous.SignalAnswer:
		if sig.Answer == nil {
			return errors.New("answer signal without description")
		}
		return l.setRemoteDescription(*sig.Answer)
	case rendezvous.SignalCandidate:
		if sig.Candidate == nil {
			return nil
		}
		return l.addCandidate(*sig.Candidate)
	default:
		return fmt.Errorf("unsupported signal %q", sig.Type)
	}
}

// setRemoteDescription applies the description and flushes candidates that
// arrived before it.
func (l *pionLink) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.candMu.Lock()
	pending := l.pending
	l.pending = nil
	l.haveRem = true
	l.candMu.Unlock()
	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			logger.Log.Warnf("Buffered ICE candidate for %s failed: %v", l.peerID, err)
		}
	}
	return nil
}

func (l *pionLink) addCandidate(c webrtc.ICECandidateInit) error {
	l.candMu.Lock()
	if !l.haveRem {
		l.pending = append(l.pending, c)
		l.candMu.Unlock()
		return nil
	}
	l.candMu.Unlock()
	return l.pc.AddICECandidate(c)
}

// StatsRTT reports the nominated ICE pair's round-trip estimate. Not all
// transports expose one; callers treat it as best effort.
func (l *pionLink) StatsRTT() (float64, bool) {
	for _, s := range l.pc.GetStats() {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok {
			continue
		}
		if pair.Nominated && pair.CurrentRoundTripTime > 0 {
			return pair.CurrentRoundTripTime * 1000, true
		}
	}
	return 0, false
}

func (l *pionLink) WriteAudio(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if l.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
		return nil
	}

	ulaw := audio.EncodeULaw(samples)

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	packet := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    0,
		SequenceNumber: l.seq,
		Timestamp:      l.ts,
		SSRC:           1,
	}, Payload: ulaw}

	if err := l.track.WriteRTP(packet); err != nil {
		return err
	}

	l.seq++
	l.ts += uint32(len(samples))
	return nil
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

func decodeRemotePayload(mimeType string, payload []byte) ([]int16, error) {
	switch mimeType {
	case webrtc.MimeTypePCMU:
		return audio.DecodeULaw(payload), nil
	case webrtc.MimeTypePCMA:
		return audio.DecodeALaw(payload), nil
	default:
		return nil, fmt.Errorf("unsupported incoming codec: %s", mimeType)
	}
}
