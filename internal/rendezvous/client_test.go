package rendezvous

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamlink-audio/jamlink/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeBroker runs one websocket endpoint speaking the broker's registration
// protocol.
type fakeBroker struct {
	t        *testing.T
	server   *httptest.Server
	rejectID string

	mu    sync.Mutex
	conns []*websocket.Conn
	inbox chan Signal
}

func newFakeBroker(t *testing.T) *fakeBroker {
	fb := &fakeBroker{t: t, inbox: make(chan Signal, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", fb.handleWS)
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http")
}

func (fb *fakeBroker) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := r.URL.Query().Get("peer")
	if fb.rejectID != "" && peer == fb.rejectID {
		_ = conn.WriteJSON(Signal{Type: SignalError, Text: "id taken"})
		conn.Close()
		return
	}
	_ = conn.WriteJSON(Signal{Type: SignalWelcome, To: peer})

	fb.mu.Lock()
	fb.conns = append(fb.conns, conn)
	fb.mu.Unlock()

	go func() {
		for {
			var sig Signal
			if err := conn.ReadJSON(&sig); err != nil {
				return
			}
			fb.inbox <- sig
		}
	}()
}

func (fb *fakeBroker) push(sig Signal) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(fb.t, fb.conns, "no client connected")
	require.NoError(fb.t, fb.conns[len(fb.conns)-1].WriteJSON(sig))
}

func (fb *fakeBroker) dropConnections() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, conn := range fb.conns {
		conn.Close()
	}
	fb.conns = nil
}

func TestOpenRegistersIdentity(t *testing.T) {
	fb := newFakeBroker(t)
	c := NewClient(fb.url(), "")
	defer c.Close()

	id, err := c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err)
	assert.Equal(t, "daw-LOCAL001", id)
	assert.Equal(t, "daw-LOCAL001", c.SelfID())

	_, err = c.Open(context.Background(), "daw-LOCAL001")
	assert.Error(t, err, "second open on a live client is rejected")
}

func TestOpenIDTaken(t *testing.T) {
	fb := newFakeBroker(t)
	fb.rejectID = "daw-LOCAL001"
	c := NewClient(fb.url(), "")
	defer c.Close()

	_, err := c.Open(context.Background(), "daw-LOCAL001")
	assert.ErrorIs(t, err, ErrIDTaken)
	assert.Empty(t, c.SelfID())
}

func TestOpenBrokerDown(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", "")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Open(ctx, "daw-LOCAL001")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSendStampsIdentity(t *testing.T) {
	fb := newFakeBroker(t)
	c := NewClient(fb.url(), "")
	defer c.Close()

	_, err := c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err)

	require.NoError(t, c.Send("daw-REMOTE01", Signal{Type: SignalBye, From: "spoofed"}))

	select {
	case sig := <-fb.inbox:
		assert.Equal(t, SignalBye, sig.Type)
		assert.Equal(t, "daw-LOCAL001", sig.From)
		assert.Equal(t, "daw-REMOTE01", sig.To)
	case <-time.After(2 * time.Second):
		t.Fatal("broker never received the envelope")
	}
}

func TestSendBeforeOpen(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", "")
	assert.ErrorIs(t, c.Send("daw-REMOTE01", Signal{Type: SignalBye}), ErrNotOpen)
}

func TestInboundSignalsDispatched(t *testing.T) {
	fb := newFakeBroker(t)
	c := NewClient(fb.url(), "")
	defer c.Close()

	received := make(chan Signal, 8)
	c.OnSignal(func(sig Signal) { received <- sig })

	_, err := c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err)

	fb.push(Signal{Type: SignalOffer, From: "daw-REMOTE01"})

	select {
	case sig := <-received:
		assert.Equal(t, SignalOffer, sig.Type)
		assert.Equal(t, "daw-REMOTE01", sig.From)
	case <-time.After(2 * time.Second):
		t.Fatal("signal never dispatched")
	}
}

func TestReopenAfterClose(t *testing.T) {
	fb := newFakeBroker(t)
	c := NewClient(fb.url(), "")

	// Leave and rejoin without restarting: every cycle must release the
	// identity and allow a fresh registration.
	for i := 0; i < 2; i++ {
		id, err := c.Open(context.Background(), "daw-LOCAL001")
		require.NoError(t, err, "cycle %d", i)
		assert.Equal(t, "daw-LOCAL001", id)

		require.NoError(t, c.Close())
		assert.Empty(t, c.SelfID(), "cycle %d: identity must be released", i)
		assert.ErrorIs(t, c.Send("daw-REMOTE01", Signal{Type: SignalBye}), ErrNotOpen)
	}

	_, err := c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err, "third registration must still succeed")
	defer c.Close()
	assert.Equal(t, "daw-LOCAL001", c.SelfID())
}

func TestBrokerLossReportedAfterReopen(t *testing.T) {
	fb := newFakeBroker(t)
	c := NewClient(fb.url(), "")
	defer c.Close()

	received := make(chan Signal, 8)
	c.OnSignal(func(sig Signal) { received <- sig })

	_, err := c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err)

	fb.dropConnections()

	select {
	case sig := <-received:
		assert.Equal(t, SignalBrokerLost, sig.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("broker loss on the reopened connection was never reported")
	}
}

func TestBrokerLossSynthesizesSignal(t *testing.T) {
	fb := newFakeBroker(t)
	c := NewClient(fb.url(), "")
	defer c.Close()

	received := make(chan Signal, 8)
	c.OnSignal(func(sig Signal) { received <- sig })

	_, err := c.Open(context.Background(), "daw-LOCAL001")
	require.NoError(t, err)

	fb.dropConnections()

	select {
	case sig := <-received:
		assert.Equal(t, SignalBrokerLost, sig.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("broker loss was never reported")
	}
}
