package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamlink-audio/jamlink/pkg/logger"
)

var (
	ErrUnavailable = errors.New("rendezvous broker unreachable")
	ErrIDTaken     = errors.New("peer id already registered")
	ErrNotOpen     = errors.New("rendezvous client not open")
)

// Client maintains one websocket to the rendezvous broker. It registers a
// local identity and relays signaling envelopes to and from remote peers.
// Open and Close pair up per registration: a closed client can be reopened
// for a fresh identity.
type Client struct {
	brokerURL string
	accessKey string

	mu      sync.Mutex
	conn    *websocket.Conn
	self    string
	handler func(Signal)
	done    chan struct{}
}

func NewClient(brokerURL, accessKey string) *Client {
	return &Client{
		brokerURL: strings.TrimRight(brokerURL, "/"),
		accessKey: accessKey,
	}
}

// OnSignal registers the inbound dispatch handler. Must be set before Open.
func (c *Client) OnSignal(fn func(Signal)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// SelfID returns the registered identity, empty until Open succeeds.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Open dials the broker and registers desiredID. The broker confirms with a
// welcome envelope carrying the accepted identity.
func (c *Client) Open(ctx context.Context, desiredID string) (string, error) {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return "", errors.New("rendezvous client already open")
	}
	c.mu.Unlock()

	wsURL := c.brokerURL + "/ws?peer=" + url.QueryEscape(desiredID)
	if c.accessKey != "" {
		token, err := c.fetchToken(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		wsURL += "&token=" + url.QueryEscape(token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// The first frame is either a welcome or a registration error.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	var first Signal
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch first.Type {
	case SignalWelcome:
	case SignalError:
		_ = conn.Close()
		if first.Text == "id taken" {
			return "", ErrIDTaken
		}
		return "", fmt.Errorf("%w: %s", ErrUnavailable, first.Text)
	default:
		_ = conn.Close()
		return "", fmt.Errorf("%w: unexpected %q envelope", ErrUnavailable, first.Type)
	}

	c.mu.Lock()
	if c.conn != nil {
		// Lost a race with a concurrent Open.
		c.mu.Unlock()
		_ = conn.Close()
		return "", errors.New("rendezvous client already open")
	}
	done := make(chan struct{})
	c.conn = conn
	c.self = first.To
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, done)

	logger.Log.Infof("Registered with rendezvous broker as %s", first.To)
	return first.To, nil
}

// Send relays one signal to a remote peer through the broker.
func (c *Client) Send(to string, sig Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotOpen
	}
	sig.From = c.self
	sig.To = to
	return c.conn.WriteJSON(sig)
}

// Close releases the identity and drops the broker socket. Safe to call
// twice; a later Open performs a fresh registration.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.self = ""
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var sig Signal
		if err := conn.ReadJSON(&sig); err != nil {
			select {
			case <-done:
			default:
				logger.Log.Warnf("Rendezvous broker link lost: %v", err)
				c.dispatch(Signal{Type: SignalBrokerLost, Text: err.Error()})
			}
			return
		}
		c.dispatch(sig)
	}
}

func (c *Client) dispatch(sig Signal) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		logger.Log.Debugf("rendezvous: dropping %s envelope, no handler", sig.Type)
		return
	}
	handler(sig)
}

// fetchToken exchanges the configured access key for a broker JWT.
func (c *Client) fetchToken(ctx context.Context) (string, error) {
	httpBase := c.brokerURL
	httpBase = strings.Replace(httpBase, "wss://", "https://", 1)
	httpBase = strings.Replace(httpBase, "ws://", "http://", 1)

	body, _ := json.Marshal(map[string]string{"access_key": c.accessKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpBase+"/api/v1/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
