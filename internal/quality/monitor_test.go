package quality

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamlink-audio/jamlink/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

type capturePublisher struct {
	mu      sync.Mutex
	updates []Sample
	peers   []string
}

func (c *capturePublisher) UpdateQuality(peerID string, s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, s)
	c.peers = append(c.peers, peerID)
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func (c *capturePublisher) lastSample() Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[len(c.updates)-1]
}

type captureSender struct {
	mu    sync.Mutex
	pings []string
	sent  chan string
	fail  bool
}

func newCaptureSender() *captureSender {
	return &captureSender{sent: make(chan string, 64)}
}

func (c *captureSender) send(pingID string, _ int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("channel closed")
	}
	c.pings = append(c.pings, pingID)
	c.sent <- pingID
	return nil
}

func waitPing(t *testing.T, c *captureSender) string {
	t.Helper()
	select {
	case id := <-c.sent:
		return id
	case <-time.After(time.Second):
		t.Fatal("no ping emitted")
		return ""
	}
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, ClassGood, Classify(49, 14))
	assert.Equal(t, ClassMedium, Classify(50, 14))
	assert.Equal(t, ClassMedium, Classify(99, 29))
	assert.Equal(t, ClassPoor, Classify(100, 0))
	assert.Equal(t, ClassPoor, Classify(40, 30))
}

func TestJitterDefinition(t *testing.T) {
	assert.Equal(t, 0.0, Jitter(nil))
	assert.Equal(t, 0.0, Jitter([]float64{42}))
	// [a, b, c] => (|b-a| + |c-b|) / 2
	assert.InDelta(t, 15.0, Jitter([]float64{40, 60, 50}), 1e-9)
}

func TestFirstPingIsImmediate(t *testing.T) {
	sender := newCaptureSender()
	m := NewMonitor(time.Hour, DefaultWindow, &capturePublisher{})
	m.Start("peer-a", sender.send, nil)
	defer m.Stop("peer-a")

	waitPing(t, sender)
}

func TestPongProducesSample(t *testing.T) {
	sender := newCaptureSender()
	pub := &capturePublisher{}
	m := NewMonitor(time.Hour, DefaultWindow, pub)

	base := time.Unix(1000, 0)
	now := base
	var nowMu sync.Mutex
	m.now = func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}

	m.Start("peer-a", sender.send, nil)
	defer m.Stop("peer-a")
	id := waitPing(t, sender)

	nowMu.Lock()
	now = base.Add(40 * time.Millisecond)
	nowMu.Unlock()
	m.HandlePong("peer-a", id, base.UnixMilli())

	require.Equal(t, 1, pub.count())
	s := pub.lastSample()
	assert.InDelta(t, 40.0, s.RTTMs, 1e-9)
	assert.Equal(t, 0.0, s.JitterMs)
	assert.Equal(t, ClassGood, s.Class)
	assert.False(t, s.Provisional)
}

func TestStalePongRejected(t *testing.T) {
	sender := newCaptureSender()
	pub := &capturePublisher{}
	m := NewMonitor(time.Hour, DefaultWindow, pub)
	m.Start("peer-a", sender.send, nil)
	defer m.Stop("peer-a")
	id := waitPing(t, sender)

	m.HandlePong("peer-a", "no-such-ping", time.Now().UnixMilli())
	assert.Equal(t, 0, pub.count())
	assert.Equal(t, 0, m.HistoryLen("peer-a"))

	// Consuming the same id twice only counts once.
	m.HandlePong("peer-a", id, time.Now().UnixMilli())
	m.HandlePong("peer-a", id, time.Now().UnixMilli())
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, 1, m.HistoryLen("peer-a"))
}

func TestHistoryBounded(t *testing.T) {
	sender := newCaptureSender()
	pub := &capturePublisher{}
	m := NewMonitor(50*time.Millisecond, DefaultWindow, pub)
	m.Start("peer-a", sender.send, nil)
	defer m.Stop("peer-a")

	for i := 0; i < 25; i++ {
		id := waitPing(t, sender)
		m.HandlePong("peer-a", id, time.Now().UnixMilli())
	}
	assert.LessOrEqual(t, m.HistoryLen("peer-a"), DefaultWindow)
	assert.Equal(t, DefaultWindow, m.HistoryLen("peer-a"))
}

func TestSendFailureStopsMonitor(t *testing.T) {
	sender := newCaptureSender()
	m := NewMonitor(20*time.Millisecond, DefaultWindow, &capturePublisher{})
	m.Start("peer-a", sender.send, nil)
	waitPing(t, sender)

	sender.mu.Lock()
	sender.fail = true
	sender.mu.Unlock()

	// Within one period the failed send must have torn the probe down.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Snapshot("peer-a"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("monitor still running after send failure")
}

func TestStopIdempotent(t *testing.T) {
	sender := newCaptureSender()
	m := NewMonitor(time.Hour, DefaultWindow, &capturePublisher{})
	m.Start("peer-a", sender.send, nil)
	waitPing(t, sender)

	m.Stop("peer-a")
	m.Stop("peer-a")
	_, ok := m.Snapshot("peer-a")
	assert.False(t, ok)
}

// reentrantPublisher reads the monitor back while handling an update, the
// way the control API does when a quality event triggers a peer snapshot.
type reentrantPublisher struct {
	m    *Monitor
	seen chan Sample
}

func (p *reentrantPublisher) UpdateQuality(peerID string, s Sample) {
	p.m.Snapshot(peerID)
	p.m.HistoryLen(peerID)
	p.seen <- s
}

func TestPublishRunsOutsideMonitorLock(t *testing.T) {
	sender := newCaptureSender()
	pub := &reentrantPublisher{seen: make(chan Sample, 1)}
	m := NewMonitor(time.Hour, DefaultWindow, pub)
	pub.m = m

	m.Start("peer-a", sender.send, nil)
	defer m.Stop("peer-a")
	id := waitPing(t, sender)

	done := make(chan struct{})
	go func() {
		m.HandlePong("peer-a", id, time.Now().UnixMilli())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pong handling blocked inside the publisher")
	}
	require.Len(t, pub.seen, 1)
}

func TestSnapshotProvisionalFallback(t *testing.T) {
	sender := newCaptureSender()
	m := NewMonitor(2*time.Second, DefaultWindow, &capturePublisher{})

	// Transport stats available: provisional reading uses them.
	m.Start("peer-a", sender.send, func() (float64, bool) { return 42, true })
	defer m.Stop("peer-a")
	waitPing(t, sender)
	s, ok := m.Snapshot("peer-a")
	require.True(t, ok)
	assert.True(t, s.Provisional)
	assert.InDelta(t, 42.0, s.RTTMs, 1e-9)
	assert.Equal(t, ClassGood, s.Class)

	// No stats: bounded pessimistic ceiling, never an empty reading.
	m.Start("peer-b", sender.send, nil)
	defer m.Stop("peer-b")
	waitPing(t, sender)
	s, ok = m.Snapshot("peer-b")
	require.True(t, ok)
	assert.True(t, s.Provisional)
	assert.InDelta(t, 2000.0, s.RTTMs, 1e-9)
	assert.Equal(t, ClassPoor, s.Class)
}

func TestSimulatedFortyMsLinkReadsGood(t *testing.T) {
	sender := newCaptureSender()
	pub := &capturePublisher{}
	m := NewMonitor(10*time.Millisecond, DefaultWindow, pub)

	base := time.Unix(2000, 0)
	now := base
	var nowMu sync.Mutex
	m.now = func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}

	m.Start("peer-a", sender.send, nil)
	defer m.Stop("peer-a")

	// 40 ms RTT alternating +/- 5 ms of jitter.
	rtts := []float64{40, 45, 40, 45, 40}
	for _, rtt := range rtts {
		id := waitPing(t, sender)
		nowMu.Lock()
		sentAt := now
		now = now.Add(time.Duration(rtt) * time.Millisecond)
		nowMu.Unlock()
		m.HandlePong("peer-a", id, sentAt.UnixMilli())
	}

	s := pub.lastSample()
	assert.Equal(t, ClassGood, s.Class)
	assert.Less(t, s.RTTMs, 50.0)
	assert.Less(t, s.JitterMs, 15.0)
}
