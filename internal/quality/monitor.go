package quality

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamlink-audio/jamlink/pkg/logger"
)

const (
	// DefaultPingInterval is the probe period; the first ping is sent
	// immediately so a reading appears within one round trip.
	DefaultPingInterval = 2 * time.Second
	// DefaultWindow bounds the per-peer RTT history.
	DefaultWindow = 10
)

// SendFunc emits one latency-ping on the peer's data channel. A send error
// means the channel has closed underneath the monitor; monitoring for that
// peer stops.
type SendFunc func(pingID string, timestampMs int64) error

// StatsFunc reports the transport's own RTT estimate, when the transport
// exposes one. Used only for provisional readings, never for the history.
type StatsFunc func() (rttMs float64, ok bool)

// Publisher receives a quality update after every accepted pong.
type Publisher interface {
	UpdateQuality(peerID string, s Sample)
}

type pendingPing struct {
	id     string
	sentMs int64
}

type probe struct {
	send     SendFunc
	stats    StatsFunc
	pending  []pendingPing
	history  []float64
	last     Sample
	hasLast  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Monitor measures round-trip time and jitter per connected peer over the
// application data channel, classifies the link and pushes updates to its
// Publisher.
type Monitor struct {
	interval time.Duration
	window   int
	pub      Publisher

	mu     sync.Mutex
	probes map[string]*probe

	now func() time.Time
}

func NewMonitor(interval time.Duration, window int, pub Publisher) *Monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{
		interval: interval,
		window:   window,
		pub:      pub,
		probes:   make(map[string]*probe),
		now:      time.Now,
	}
}

// Start begins probing peerID. The first ping goes out immediately, then one
// per interval. Calling Start for an already-monitored peer is a no-op.
func (m *Monitor) Start(peerID string, send SendFunc, stats StatsFunc) {
	m.mu.Lock()
	if _, exists := m.probes[peerID]; exists {
		m.mu.Unlock()
		return
	}
	p := &probe{
		send:   send,
		stats:  stats,
		stopCh: make(chan struct{}),
	}
	m.probes[peerID] = p
	m.mu.Unlock()

	go m.pingLoop(peerID, p)
}

// Stop cancels the probe timer and discards the peer's history and any
// outstanding ping records. Idempotent.
func (m *Monitor) Stop(peerID string) {
	m.mu.Lock()
	p, ok := m.probes[peerID]
	if ok {
		delete(m.probes, peerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// StopAll tears down every probe.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.probes))
	for id := range m.probes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

func (m *Monitor) pingLoop(peerID string, p *probe) {
	if !m.sendPing(peerID, p) {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if !m.sendPing(peerID, p) {
				return
			}
		}
	}
}

// sendPing issues one probe. Returns false when the peer is gone or the
// channel refused the write, in which case monitoring stops.
func (m *Monitor) sendPing(peerID string, p *probe) bool {
	m.mu.Lock()
	if _, still := m.probes[peerID]; !still {
		m.mu.Unlock()
		return false
	}
	id := uuid.New().String()
	sentMs := m.now().UnixMilli()
	p.pending = append(p.pending, pendingPing{id: id, sentMs: sentMs})
	if len(p.pending) > m.window {
		// Unanswered pings age out when superseded; no timeout fires.
		p.pending = p.pending[len(p.pending)-m.window:]
	}
	send := p.send
	m.mu.Unlock()

	if err := send(id, sentMs); err != nil {
		logger.Log.Debugf("quality: ping to %s failed, stopping monitor: %v", peerID, err)
		m.Stop(peerID)
		return false
	}
	return true
}

// HandlePong consumes a latency-pong. Unmatched or already-consumed ping ids
// are logged and dropped; they indicate duplicate delivery or an aged-out
// probe and never alter the history.
func (m *Monitor) HandlePong(peerID, pingID string, sentMs int64) {
	m.mu.Lock()

	p, ok := m.probes[peerID]
	if !ok {
		m.mu.Unlock()
		logger.Log.Debugf("quality: pong from unmonitored peer %s", peerID)
		return
	}

	matched := false
	for i, pending := range p.pending {
		if pending.id == pingID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			matched = true
			break
		}
	}
	if !matched {
		m.mu.Unlock()
		logger.Log.Debugf("quality: stale pong %s from %s", pingID, peerID)
		return
	}

	rtt := float64(m.now().UnixMilli() - sentMs)
	if rtt < 0 {
		rtt = 0
	}
	p.history = append(p.history, rtt)
	if len(p.history) > m.window {
		p.history = p.history[len(p.history)-m.window:]
	}

	avg := AverageRTT(p.history)
	jitter := Jitter(p.history)
	s := Sample{
		RTTMs:     avg,
		JitterMs:  jitter,
		Class:     Classify(avg, jitter),
		SampledAt: m.now(),
	}
	p.last = s
	p.hasLast = true

	// Publish outside the lock: the publisher fans out to the display,
	// persistence and webhooks, and a slow consumer must not stall pong
	// handling for other peers.
	m.mu.Unlock()

	if m.pub != nil {
		m.pub.UpdateQuality(peerID, s)
	}
}

// Snapshot is the pull accessor. Before the first pong lands it returns a
// bounded provisional reading: the transport's own RTT estimate when
// available, otherwise the ping interval as a pessimistic ceiling.
func (m *Monitor) Snapshot(peerID string) (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.probes[peerID]
	if !ok {
		return Sample{}, false
	}
	if p.hasLast {
		return p.last, true
	}

	if p.stats != nil {
		if rtt, ok := p.stats(); ok {
			return Sample{
				RTTMs:       rtt,
				JitterMs:    0,
				Class:       Classify(rtt, 0),
				SampledAt:   m.now(),
				Provisional: true,
			}, true
		}
	}
	ceiling := float64(m.interval.Milliseconds())
	return Sample{
		RTTMs:       ceiling,
		JitterMs:    0,
		Class:       Classify(ceiling, 0),
		SampledAt:   m.now(),
		Provisional: true,
	}, true
}

// HistoryLen reports the current RTT window size for a peer.
func (m *Monitor) HistoryLen(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.probes[peerID]; ok {
		return len(p.history)
	}
	return 0
}
