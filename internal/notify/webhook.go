package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/internal/quality"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

// Event is the template context for a rendered webhook message.
type Event struct {
	Kind   string // joined, left
	PeerID string
}

// Notifier pushes peer join/leave announcements to configured webhooks.
// It is one of the displays fanned out from the registry.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
}

func NewNotifier(webhooks []config.WebhookConfig) *Notifier {
	return &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) SetStatus(text string) {}

func (n *Notifier) AddPeer(peerID string) {
	n.dispatch(Event{Kind: "joined", PeerID: peerID})
}

func (n *Notifier) RemovePeer(peerID string) {
	n.dispatch(Event{Kind: "left", PeerID: peerID})
}

func (n *Notifier) UpdateQuality(peerID string, s quality.Sample) {}

func (n *Notifier) Chat(peerID, message string) {}

func (n *Notifier) dispatch(ev Event) {
	for _, wh := range n.webhooks {
		go n.send(wh, ev)
	}
}

func (n *Notifier) send(wh config.WebhookConfig, ev Event) {
	// 1. Render Template
	content := ev.PeerID + " " + ev.Kind + " the session"
	if wh.Template != "" {
		tmpl, err := template.New("msg").Parse(wh.Template)
		if err == nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, ev); err == nil {
				content = buf.String()
			}
		}
	}

	// 2. Format Payload based on Platform
	var payload []byte
	var err error

	switch wh.Platform {
	case "telegram":
		body := map[string]interface{}{
			"text":       content,
			"parse_mode": "Markdown",
		}
		if wh.ChannelID != "" {
			body["chat_id"] = wh.ChannelID
		}
		if strings.Contains(wh.URL, "slack.com") {
			body = map[string]interface{}{"text": content}
		}
		payload, err = json.Marshal(body)

	default:
		// Generic JSON
		body := map[string]interface{}{
			"text":  content,
			"event": ev,
		}
		payload, err = json.Marshal(body)
	}

	if err != nil {
		logger.Log.Errorf("Failed to marshal webhook payload: %v", err)
		return
	}

	// 3. Send Request
	req, err := http.NewRequest("POST", wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		logger.Log.Errorf("Failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		logger.Log.Errorf("Failed to send webhook to %s: %v", wh.URL, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		logger.Log.Errorf("Webhook %s returned status: %d", wh.URL, resp.StatusCode)
	} else {
		logger.Log.Infof("Webhook sent to %s", wh.URL)
	}
}
