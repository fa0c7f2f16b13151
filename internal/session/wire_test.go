package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWireMessageRejectsJunk(t *testing.T) {
	_, err := ParseWireMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseWireMessage([]byte(`{"pingId":"x"}`))
	assert.Error(t, err, "missing type must be rejected")
}

func TestPingEncodingUsesCamelCaseKey(t *testing.T) {
	msg := &WireMessage{Type: WireLatencyPing, PingID: "p1", Timestamp: 42}
	raw, err := msg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"pingId":"p1"`)
	assert.NotContains(t, string(raw), "settings")

	parsed, err := ParseWireMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "p1", parsed.PingID)
	assert.Equal(t, int64(42), parsed.Timestamp)
}

func TestNewPeerIDFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewPeerID()
		require.True(t, strings.HasPrefix(id, "daw-"), "id %q", id)
		require.Len(t, id, len("daw-")+8)
		for _, r := range id[len("daw-"):] {
			ok := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			require.True(t, ok, "unexpected rune %q in %s", r, id)
		}
		seen[id] = true
	}
	assert.Greater(t, len(seen), 90, "ids should be effectively unique")
}
