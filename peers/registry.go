// Package peers tracks configured peer key providers: endpoints, shared
// secrets, and the Unknown/Online/Offline liveness state machine.
//
// The registry performs no I/O. State transitions are driven exclusively by
// the synchronization engine recording send and receive outcomes.
package peers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/metrics"
	"go.uber.org/atomic"
)

// Peer is one configured peer key provider. Liveness fields are atomics so
// the scheduler and the inbound handler can update them without a shared
// lock; sendMu serializes outbound messages so a single peer never observes
// reordered traffic.
type Peer struct {
	SystemID     string
	Endpoint     string
	Port         int
	SharedSecret []byte

	status        atomic.Int32
	failures      atomic.Int32
	lastHeartbeat atomic.Time
	capsSent      atomic.Bool

	capMu        sync.Mutex
	capabilities *interfaces.CapabilityDescriptor

	// sendMu is held by the messenger for the duration of one send.
	sendMu sync.Mutex
}

// URL returns the peer's sync base URL. TLS is terminated by the proxy in
// front of the peer, so the core always speaks plain HTTP.
func (p *Peer) URL() string {
	return fmt.Sprintf("http://%s:%d", p.Endpoint, p.Port)
}

// Status returns the peer's current liveness state.
func (p *Peer) Status() interfaces.PeerStatus {
	return interfaces.PeerStatus(p.status.Load())
}

// LastHeartbeatAt returns the time of the last successful heartbeat
// exchange, zero if none.
func (p *Peer) LastHeartbeatAt() time.Time {
	return p.lastHeartbeat.Load()
}

// LockSend serializes sends to this peer. Cross-peer sends proceed in
// parallel.
func (p *Peer) LockSend() func() {
	p.sendMu.Lock()
	return p.sendMu.Unlock
}

// MarkCapabilitiesSent reports whether the capability exchange for this
// peer's current online period is still owed, claiming it if so.
func (p *Peer) MarkCapabilitiesSent() bool {
	return p.capsSent.CompareAndSwap(false, true)
}

// Capabilities returns the descriptor the peer last shared, nil if none.
func (p *Peer) Capabilities() *interfaces.CapabilityDescriptor {
	p.capMu.Lock()
	defer p.capMu.Unlock()
	return p.capabilities
}

// Registry owns all configured peers. Peers are registered at startup from
// the immutable configuration and never added or removed afterwards.
type Registry struct {
	peers           map[string]*Peer
	order           []string
	missedThreshold int
	log             *slog.Logger
}

// NewRegistry builds the registry from configuration.
func NewRegistry(cfg *config.Config, log *slog.Logger) *Registry {
	r := &Registry{
		peers:           make(map[string]*Peer, len(cfg.Peers)),
		missedThreshold: cfg.MissedThreshold,
		log:             log,
	}

	for _, pc := range cfg.Peers {
		peer := &Peer{
			SystemID:     pc.SystemID,
			Endpoint:     pc.Endpoint,
			Port:         pc.Port,
			SharedSecret: []byte(pc.SharedSecret),
		}
		r.peers[pc.SystemID] = peer
		r.order = append(r.order, pc.SystemID)

		metrics.PeerOnline.WithLabelValues(pc.SystemID).Set(0)
		log.Info("Registered peer",
			slog.String("peer", pc.SystemID),
			slog.String("endpoint", peer.URL()))
	}

	return r
}

// Get returns the peer with the given system ID.
func (r *Registry) Get(systemID string) (*Peer, bool) {
	peer, ok := r.peers[systemID]
	return peer, ok
}

// All returns all peers in configuration order.
func (r *Registry) All() []*Peer {
	out := make([]*Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

// RecordSuccess notes a successful exchange with the peer: the failure
// counter resets and the peer comes (back) Online. Heartbeat successes also
// stamp the liveness time.
func (r *Registry) RecordSuccess(peer *Peer, heartbeat bool) {
	peer.failures.Store(0)
	if heartbeat {
		peer.lastHeartbeat.Store(time.Now())
	}

	previous := interfaces.PeerStatus(peer.status.Swap(int32(interfaces.PeerOnline)))
	if previous != interfaces.PeerOnline {
		metrics.PeerOnline.WithLabelValues(peer.SystemID).Set(1)
		r.log.Info("Peer online",
			slog.String("peer", peer.SystemID),
			slog.String("previous", previous.String()))
	}
}

// RecordFailure notes a failed send. After missedThreshold consecutive
// failures the peer is demoted to Offline. A later success promotes it
// straight back.
func (r *Registry) RecordFailure(peer *Peer) {
	failures := peer.failures.Inc()
	if int(failures) < r.missedThreshold {
		return
	}

	previous := interfaces.PeerStatus(peer.status.Swap(int32(interfaces.PeerOffline)))
	if previous != interfaces.PeerOffline {
		peer.capsSent.Store(false)
		metrics.PeerOnline.WithLabelValues(peer.SystemID).Set(0)
		r.log.Warn("Peer offline",
			slog.String("peer", peer.SystemID),
			slog.Int("consecutiveFailures", int(failures)))
	}
}

// MergeCapabilities stores the descriptor a peer shared via capability
// exchange. Diagnostics only: local authorization is configuration-driven
// and never widened by peer input.
func (r *Registry) MergeCapabilities(peer *Peer, desc *interfaces.CapabilityDescriptor) {
	peer.capMu.Lock()
	peer.capabilities = desc
	peer.capMu.Unlock()

	r.log.Debug("Updated peer capabilities", slog.String("peer", peer.SystemID))
}

// PeerSummary is one peer's entry in the sync status report.
type PeerSummary struct {
	SystemID            string                           `json:"systemId"`
	Endpoint            string                           `json:"endpoint"`
	Status              interfaces.PeerStatus            `json:"status"`
	LastHeartbeatAt     *time.Time                       `json:"lastHeartbeatAt,omitempty"`
	ConsecutiveFailures int                              `json:"consecutiveFailures"`
	Capabilities        *interfaces.CapabilityDescriptor `json:"capabilities,omitempty"`
}

// Snapshot returns the current state of every peer for the status endpoint.
func (r *Registry) Snapshot() []PeerSummary {
	out := make([]PeerSummary, 0, len(r.order))
	for _, id := range r.order {
		peer := r.peers[id]

		summary := PeerSummary{
			SystemID:            peer.SystemID,
			Endpoint:            fmt.Sprintf("%s:%d", peer.Endpoint, peer.Port),
			Status:              peer.Status(),
			ConsecutiveFailures: int(peer.failures.Load()),
			Capabilities:        peer.Capabilities(),
		}
		if hb := peer.LastHeartbeatAt(); !hb.IsZero() {
			t := hb.UTC()
			summary.LastHeartbeatAt = &t
		}
		out = append(out, summary)
	}
	return out
}
