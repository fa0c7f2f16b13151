package broker

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamlink-audio/jamlink/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	h := NewHub()

	a, err := h.Register("daw-AAAA0001", nil)
	require.NoError(t, err)
	require.NotNil(t, a)

	_, err = h.Register("daw-AAAA0001", nil)
	assert.ErrorIs(t, err, ErrIDTaken)
	assert.Equal(t, 1, h.PeerCount())
}

func TestRouteStampsFrom(t *testing.T) {
	h := NewHub()
	alice, err := h.Register("daw-ALICE001", nil)
	require.NoError(t, err)
	bob, err := h.Register("daw-BOB00001", nil)
	require.NoError(t, err)

	h.Route(alice, []byte(`{"type":"offer","to":"daw-BOB00001","from":"daw-SPOOF001"}`))

	select {
	case payload := <-bob.Send:
		var env map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &env))
		assert.Equal(t, "offer", env["type"])
		assert.Equal(t, "daw-ALICE001", env["from"], "broker overrides the sender's from field")
	default:
		t.Fatal("envelope was not delivered")
	}
}

func TestRouteMissingTargetRepliesUnavailable(t *testing.T) {
	h := NewHub()
	alice, err := h.Register("daw-ALICE001", nil)
	require.NoError(t, err)

	h.Route(alice, []byte(`{"type":"offer","to":"daw-GHOST001"}`))

	select {
	case payload := <-alice.Send:
		var env map[string]string
		require.NoError(t, json.Unmarshal(payload, &env))
		assert.Equal(t, "peer-unavailable", env["type"])
		assert.Equal(t, "daw-GHOST001", env["text"])
	default:
		t.Fatal("no reply to sender")
	}
}

func TestRouteDropsEnvelopeWithoutTarget(t *testing.T) {
	h := NewHub()
	alice, err := h.Register("daw-ALICE001", nil)
	require.NoError(t, err)

	h.Route(alice, []byte(`{"type":"offer"}`))
	h.Route(alice, []byte(`not json`))

	assert.Empty(t, alice.Send)
}

func TestUnregisterFreesID(t *testing.T) {
	h := NewHub()
	a, err := h.Register("daw-AAAA0001", nil)
	require.NoError(t, err)

	h.unregister(a)
	assert.Equal(t, 0, h.PeerCount())

	_, err = h.Register("daw-AAAA0001", nil)
	assert.NoError(t, err)
}
