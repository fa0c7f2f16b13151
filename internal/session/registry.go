package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jamlink-audio/jamlink/internal/quality"
	"github.com/jamlink-audio/jamlink/internal/rendezvous"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

// peerLink is the registry's record of one remote collaborator.
type peerLink struct {
	id             string
	link           Link
	dataState      DataState
	mediaState     MediaState
	remoteSettings *AudioSettings
	joinResult     chan error
}

// PeerInfo is a read-only snapshot of one registry entry.
type PeerInfo struct {
	ID         string          `json:"id"`
	DataState  string          `json:"data_state"`
	MediaState string          `json:"media_state"`
	Quality    *quality.Sample `json:"quality,omitempty"`
}

// Registry is the single source of truth for which peers are connected and
// the sole authority for attaching and detaching media. An entry exists iff
// at least one of its channels is not terminally closed; removal happens
// synchronously with the last teardown step, exactly once.
type Registry struct {
	sig       Signaler
	transport Transport
	bridge    MediaBridge
	display   Display
	monitor   *quality.Monitor

	mu       sync.Mutex
	self     string
	creating bool
	peers    map[string]*peerLink

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewRegistry(sig Signaler, transport Transport, bridge MediaBridge, display Display, monitor *quality.Monitor) *Registry {
	return &Registry{
		sig:       sig,
		transport: transport,
		bridge:    bridge,
		display:   display,
		monitor:   monitor,
		peers:     make(map[string]*peerLink),
		done:      make(chan struct{}),
	}
}

// Start launches the capture fan-out loop. Frames reach only peers whose
// data channel is open, so audio never precedes the quality channel.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		go r.uplinkLoop()
	})
}

// SelfID returns the local rendezvous identity, empty before CreateSession.
func (r *Registry) SelfID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// CreateSession allocates a local identity with the broker and opens it for
// incoming connections.
func (r *Registry) CreateSession(ctx context.Context) (string, error) {
	// The creating flag covers the unlocked broker round trip, so a
	// concurrent caller fails fast instead of racing a second Open.
	r.mu.Lock()
	if r.self != "" || r.creating {
		r.mu.Unlock()
		return "", ErrAlreadyActive
	}
	r.creating = true
	r.mu.Unlock()

	self, err := r.sig.Open(ctx, NewPeerID())

	r.mu.Lock()
	r.creating = false
	if err == nil {
		r.self = self
	}
	r.mu.Unlock()

	if err != nil {
		if errors.Is(err, rendezvous.ErrIDTaken) {
			return "", ErrIDTaken
		}
		return "", fmt.Errorf("%w: %v", ErrRendezvousUnavailable, err)
	}

	r.display.SetStatus("Session ready, share id " + self)
	return self, nil
}

// JoinSession connects to remoteID: data channel first, media once the data
// channel reports open. Blocks until the peer is connected, the broker
// reports it unreachable, or ctx expires.
func (r *Registry) JoinSession(ctx context.Context, remoteID string) error {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return ErrInvalidPeerID
	}
	if !r.bridge.Ready() {
		return ErrLocalStreamUnavailable
	}

	// The joiner flow needs its own identity before it can be addressed.
	if r.SelfID() == "" {
		if _, err := r.CreateSession(ctx); err != nil {
			return err
		}
	}
	if remoteID == r.SelfID() {
		return ErrInvalidPeerID
	}

	r.mu.Lock()
	if _, exists := r.peers[remoteID]; exists {
		r.mu.Unlock()
		return nil
	}
	pl := &peerLink{
		id:         remoteID,
		dataState:  DataConnecting,
		mediaState: MediaNone,
		joinResult: make(chan error, 1),
	}
	r.peers[remoteID] = pl
	r.mu.Unlock()

	r.display.SetStatus("Connecting to " + remoteID)

	link, err := r.transport.Dial(remoteID, r.events(remoteID))
	if err != nil {
		r.DisconnectPeer(remoteID)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	r.mu.Lock()
	current, still := r.peers[remoteID]
	if !still || current != pl {
		// Torn down while dialing; do not resurrect.
		r.mu.Unlock()
		_ = link.Close()
		return ErrConnectionFailed
	}
	pl.link = link
	r.mu.Unlock()

	select {
	case err := <-pl.joinResult:
		return err
	case <-ctx.Done():
		r.DisconnectPeer(remoteID)
		return ctx.Err()
	}
}

// HandleSignal dispatches one rendezvous envelope. Wire it to the
// rendezvous client's OnSignal hook.
func (r *Registry) HandleSignal(sig rendezvous.Signal) {
	switch sig.Type {
	case rendezvous.SignalOffer:
		r.handleOffer(sig)
	case rendezvous.SignalAnswer, rendezvous.SignalCandidate:
		r.routeToLink(sig)
	case rendezvous.SignalBye:
		r.DisconnectPeer(sig.From)
	case rendezvous.SignalPeerUnavailable:
		r.handlePeerUnavailable(sig.Text)
	case rendezvous.SignalBrokerLost:
		r.display.SetStatus("Rendezvous connection lost")
	case rendezvous.SignalWelcome, rendezvous.SignalError:
		// Consumed during Open; late duplicates carry nothing actionable.
	default:
		logger.Log.Debugf("registry: ignoring unrecognized signal %q from %s", sig.Type, sig.From)
	}
}

// handleOffer is the inbound connection path. The remote's data and media
// negotiations may arrive in either order; both land on the same link.
func (r *Registry) handleOffer(sig rendezvous.Signal) {
	from := sig.From
	if from == "" {
		return
	}

	r.mu.Lock()
	pl, exists := r.peers[from]
	if !exists {
		pl = &peerLink{id: from, dataState: DataConnecting, mediaState: MediaNone}
		r.peers[from] = pl
	}
	link := pl.link
	r.mu.Unlock()

	if link == nil {
		accepted, err := r.transport.Accept(from, r.events(from))
		if err != nil {
			logger.Log.Errorf("Failed to accept connection from %s: %v", from, err)
			r.DisconnectPeer(from)
			return
		}
		r.mu.Lock()
		current, still := r.peers[from]
		if !still || current != pl {
			r.mu.Unlock()
			_ = accepted.Close()
			return
		}
		pl.link = accepted
		link = accepted
		r.mu.Unlock()
		r.display.SetStatus("Incoming connection from " + from)
	}

	if err := link.HandleSignal(sig); err != nil {
		logger.Log.Errorf("Offer from %s failed: %v", from, err)
		r.DisconnectPeer(from)
	}
}

func (r *Registry) routeToLink(sig rendezvous.Signal) {
	r.mu.Lock()
	pl, ok := r.peers[sig.From]
	var link Link
	if ok {
		link = pl.link
	}
	r.mu.Unlock()
	if link == nil {
		// A stale completion for a removed peer must not resurrect it.
		logger.Log.Debugf("registry: %s signal for unknown peer %s dropped", sig.Type, sig.From)
		return
	}
	if err := link.HandleSignal(sig); err != nil {
		logger.Log.Warnf("Signal %s from %s failed: %v", sig.Type, sig.From, err)
	}
}

func (r *Registry) handlePeerUnavailable(target string) {
	r.mu.Lock()
	pl, ok := r.peers[target]
	var join chan error
	if ok {
		join = pl.joinResult
		pl.joinResult = nil
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.display.SetStatus("Peer " + target + " is unreachable")
	r.DisconnectPeer(target)
	if join != nil {
		join <- ErrPeerUnreachable
	}
}

// DisconnectPeer closes both channels, detaches media, stops quality
// monitoring, removes the entry and updates the display. Idempotent: a
// second call (or a call for an unknown id) is a no-op.
func (r *Registry) DisconnectPeer(peerID string) {
	r.mu.Lock()
	pl, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, peerID)
	wasOpen := pl.dataState == DataOpen
	pl.dataState = DataClosed
	pl.mediaState = MediaClosed
	link := pl.link
	join := pl.joinResult
	pl.joinResult = nil
	r.mu.Unlock()

	r.monitor.Stop(peerID)
	if wasOpen {
		_ = r.sig.Send(peerID, rendezvous.Signal{Type: rendezvous.SignalBye})
	}
	if link != nil {
		_ = link.Close()
	}
	if wasOpen {
		r.display.RemovePeer(peerID)
		r.display.SetStatus("Disconnected from " + peerID)
	}
	if join != nil {
		join <- ErrConnectionFailed
	}
	logger.Log.Infof("Peer %s removed (was open: %v)", peerID, wasOpen)
}

// DisconnectAll tears down every peer and releases the local identity.
func (r *Registry) DisconnectAll() {
	for _, id := range r.allPeerIDs() {
		r.DisconnectPeer(id)
	}

	r.mu.Lock()
	had := r.self != ""
	r.self = ""
	r.mu.Unlock()
	if had {
		_ = r.sig.Close()
		r.display.SetStatus("Session closed")
	}
}

// Close shuts the registry down for good: all peers, the uplink loop and
// every quality probe.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.DisconnectAll()
		r.monitor.StopAll()
	})
}

// ConnectedPeers returns a sorted snapshot of peers whose data channel is
// open.
func (r *Registry) ConnectedPeers() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.peers))
	for id, pl := range r.peers {
		if pl.dataState == DataOpen {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Peers returns a display-ready snapshot of every registry entry, with the
// monitor's current reading folded in.
func (r *Registry) Peers() []PeerInfo {
	r.mu.Lock()
	infos := make([]PeerInfo, 0, len(r.peers))
	for id, pl := range r.peers {
		infos = append(infos, PeerInfo{
			ID:         id,
			DataState:  pl.dataState.String(),
			MediaState: pl.mediaState.String(),
		})
	}
	r.mu.Unlock()

	for i := range infos {
		if s, ok := r.monitor.Snapshot(infos[i].ID); ok {
			sample := s
			infos[i].Quality = &sample
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (r *Registry) allPeerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// events builds the callback set for one peer's link. Each callback
// re-checks membership: a teardown can race a scheduled transport event.
func (r *Registry) events(peerID string) LinkEvents {
	return LinkEvents{
		OnDataOpen:    func() { r.onDataOpen(peerID) },
		OnDataClosed:  func() { r.DisconnectPeer(peerID) },
		OnDataMessage: func(raw []byte) { r.onDataMessage(peerID, raw) },
		OnTrack:       func() { r.onTrack(peerID) },
		OnFailed:      func() { r.onFailed(peerID) },
	}
}

func (r *Registry) onDataOpen(peerID string) {
	r.mu.Lock()
	pl, ok := r.peers[peerID]
	if !ok || pl.dataState == DataClosed {
		r.mu.Unlock()
		return
	}
	pl.dataState = DataOpen
	if pl.mediaState == MediaNone {
		pl.mediaState = MediaNegotiating
	}
	link := pl.link
	join := pl.joinResult
	pl.joinResult = nil
	r.mu.Unlock()

	settings := r.bridge.Settings()
	if err := r.sendWire(peerID, &WireMessage{Type: WireAudioSettings, Settings: &settings}); err != nil {
		logger.Log.Warnf("Sending audio settings to %s failed: %v", peerID, err)
	}

	r.display.AddPeer(peerID)
	r.display.SetStatus("Connected to " + peerID)

	var stats quality.StatsFunc
	if link != nil {
		stats = link.StatsRTT
	}
	r.monitor.Start(peerID, func(pingID string, timestampMs int64) error {
		return r.sendWire(peerID, &WireMessage{
			Type:      WireLatencyPing,
			PingID:    pingID,
			Timestamp: timestampMs,
		})
	}, stats)

	if join != nil {
		join <- nil
	}
}

func (r *Registry) onDataMessage(peerID string, raw []byte) {
	msg, err := ParseWireMessage(raw)
	if err != nil {
		logger.Log.Warnf("Malformed wire message from %s: %v", peerID, err)
		return
	}

	switch msg.Type {
	case WireLatencyPing:
		// Echo immediately; the responder needs no clock of its own.
		if err := r.sendWire(peerID, &WireMessage{
			Type:      WireLatencyPong,
			PingID:    msg.PingID,
			Timestamp: msg.Timestamp,
		}); err != nil {
			logger.Log.Debugf("registry: pong to %s failed: %v", peerID, err)
		}
	case WireLatencyPong:
		r.monitor.HandlePong(peerID, msg.PingID, msg.Timestamp)
	case WireAudioSettings:
		r.mu.Lock()
		if pl, ok := r.peers[peerID]; ok {
			pl.remoteSettings = msg.Settings
		}
		r.mu.Unlock()
		if msg.Settings != nil {
			logger.Log.Infof("Peer %s audio: %d Hz, %d bit, device %q",
				peerID, msg.Settings.SampleRate, msg.Settings.BitDepth, msg.Settings.DeviceLabel)
		}
	case WireChat:
		r.display.Chat(peerID, msg.Message)
	default:
		logger.Log.Debugf("registry: unrecognized wire message %q from %s", msg.Type, peerID)
	}
}

func (r *Registry) onTrack(peerID string) {
	r.mu.Lock()
	pl, ok := r.peers[peerID]
	if ok && pl.mediaState != MediaClosed {
		pl.mediaState = MediaStreaming
	}
	r.mu.Unlock()
	if ok {
		logger.Log.Infof("Remote audio streaming from %s", peerID)
	}
}

func (r *Registry) onFailed(peerID string) {
	r.mu.Lock()
	_, ok := r.peers[peerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.display.SetStatus("Connection to " + peerID + " failed")
	r.DisconnectPeer(peerID)
}

// SendChat delivers a text message to one connected peer.
func (r *Registry) SendChat(peerID, message string) error {
	return r.sendWire(peerID, &WireMessage{Type: WireChat, Message: message})
}

// sendWire writes one message to a peer's data channel, re-checking that the
// peer is still registered and open.
func (r *Registry) sendWire(peerID string, msg *WireMessage) error {
	r.mu.Lock()
	pl, ok := r.peers[peerID]
	var link Link
	if ok && pl.dataState != DataClosed {
		link = pl.link
	}
	r.mu.Unlock()
	if link == nil {
		return fmt.Errorf("peer %s has no open data channel", peerID)
	}
	return link.SendData(msg)
}

// uplinkLoop fans captured audio out to every peer whose data channel is
// open.
func (r *Registry) uplinkLoop() {
	frames := r.bridge.CaptureFrames()
	if frames == nil {
		return
	}
	for {
		select {
		case <-r.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			r.mu.Lock()
			links := make([]Link, 0, len(r.peers))
			for _, pl := range r.peers {
				if pl.dataState == DataOpen && pl.link != nil {
					links = append(links, pl.link)
				}
			}
			r.mu.Unlock()
			for _, link := range links {
				if err := link.WriteAudio(frame); err != nil {
					logger.Log.Debugf("registry: audio write failed: %v", err)
				}
			}
		}
	}
}
