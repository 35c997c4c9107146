package peers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	cfg := &config.Config{
		LocalSystemID:   "KP_QuIIN_Server",
		RemoteSystemIDs: []string{"KP_*"},
		MissedThreshold: 3,
		Peers: []config.PeerConfig{
			{SystemID: "KP_Peer_B", Endpoint: "peer-b.internal", Port: 8080, SharedSecret: "0123456789abcdef0123456789abcdef"},
			{SystemID: "KP_Peer_C", Endpoint: "peer-c.internal", Port: 8081, SharedSecret: "fedcba9876543210fedcba9876543210"},
		},
	}

	return NewRegistry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_Lookup(t *testing.T) {
	reg := newTestRegistry(t)

	peer, ok := reg.Get("KP_Peer_B")
	require.True(t, ok)
	assert.Equal(t, "http://peer-b.internal:8080", peer.URL())
	assert.Equal(t, interfaces.PeerUnknown, peer.Status())

	_, ok = reg.Get("KP_Stranger")
	assert.False(t, ok)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "KP_Peer_B", all[0].SystemID)
	assert.Equal(t, "KP_Peer_C", all[1].SystemID)
}

func TestStateMachine_OfflineAfterThreshold(t *testing.T) {
	reg := newTestRegistry(t)
	peer, _ := reg.Get("KP_Peer_B")

	reg.RecordSuccess(peer, true)
	assert.Equal(t, interfaces.PeerOnline, peer.Status())
	assert.False(t, peer.LastHeartbeatAt().IsZero())

	// Two failures are not enough.
	reg.RecordFailure(peer)
	reg.RecordFailure(peer)
	assert.Equal(t, interfaces.PeerOnline, peer.Status())

	// The third consecutive failure demotes.
	reg.RecordFailure(peer)
	assert.Equal(t, interfaces.PeerOffline, peer.Status())

	// The next success promotes straight back.
	reg.RecordSuccess(peer, true)
	assert.Equal(t, interfaces.PeerOnline, peer.Status())
}

func TestStateMachine_SuccessResetsFailures(t *testing.T) {
	reg := newTestRegistry(t)
	peer, _ := reg.Get("KP_Peer_B")

	reg.RecordFailure(peer)
	reg.RecordFailure(peer)
	reg.RecordSuccess(peer, false)

	// Failures must be consecutive to demote.
	reg.RecordFailure(peer)
	reg.RecordFailure(peer)
	assert.Equal(t, interfaces.PeerOnline, peer.Status())
}

func TestStateMachine_IndependentPeers(t *testing.T) {
	reg := newTestRegistry(t)
	peerB, _ := reg.Get("KP_Peer_B")
	peerC, _ := reg.Get("KP_Peer_C")

	for i := 0; i < 3; i++ {
		reg.RecordFailure(peerB)
	}

	assert.Equal(t, interfaces.PeerOffline, peerB.Status())
	assert.Equal(t, interfaces.PeerUnknown, peerC.Status())
}

func TestMarkCapabilitiesSent_OncePerOnlinePeriod(t *testing.T) {
	reg := newTestRegistry(t)
	peer, _ := reg.Get("KP_Peer_B")

	reg.RecordSuccess(peer, true)
	assert.True(t, peer.MarkCapabilitiesSent())
	assert.False(t, peer.MarkCapabilitiesSent())

	// Going offline re-arms the exchange for the next online period.
	for i := 0; i < 3; i++ {
		reg.RecordFailure(peer)
	}
	reg.RecordSuccess(peer, true)
	assert.True(t, peer.MarkCapabilitiesSent())
}

func TestSnapshot(t *testing.T) {
	reg := newTestRegistry(t)
	peer, _ := reg.Get("KP_Peer_B")

	reg.RecordSuccess(peer, true)
	reg.MergeCapabilities(peer, &interfaces.CapabilityDescriptor{
		Entropy:       true,
		Key:           true,
		LocalSystemID: "KP_Peer_B",
	})

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)

	assert.Equal(t, "KP_Peer_B", snapshot[0].SystemID)
	assert.Equal(t, interfaces.PeerOnline, snapshot[0].Status)
	assert.NotNil(t, snapshot[0].LastHeartbeatAt)
	require.NotNil(t, snapshot[0].Capabilities)
	assert.Equal(t, "KP_Peer_B", snapshot[0].Capabilities.LocalSystemID)

	assert.Equal(t, interfaces.PeerUnknown, snapshot[1].Status)
	assert.Nil(t, snapshot[1].LastHeartbeatAt)
}
