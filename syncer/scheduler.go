package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quiin/skip-key-provider/capability"
	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/keystore"
	"github.com/quiin/skip-key-provider/peers"
)

// Scheduler drives the periodic heartbeat, key replication, and expiry
// sweep cycles. Each cycle fans out across peers in parallel; sends to a
// single peer stay ordered through the peer's send lock.
type Scheduler struct {
	cfg       *config.Config
	messenger *Messenger
	store     *keystore.Store
	registry  *peers.Registry
	caps      *capability.Registry
	log       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler wires the synchronization loops together. Nothing runs until
// Start is called.
func NewScheduler(cfg *config.Config, messenger *Messenger, store *keystore.Store, registry *peers.Registry, caps *capability.Registry, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		messenger: messenger,
		store:     store,
		registry:  registry,
		caps:      caps,
		log:       log,
	}
}

// Start launches the background loops. Call Stop to shut them down.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go s.heartbeatLoop(ctx)
	go s.replicationLoop(ctx)
	go s.sweepLoop(ctx)

	s.log.Info("Synchronization scheduler started",
		slog.Int("peers", len(s.registry.All())),
		slog.Duration("heartbeatInterval", s.cfg.HeartbeatInterval()),
		slog.Duration("syncInterval", s.cfg.SyncInterval()))
}

// Stop cancels the loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Info("Synchronization scheduler stopped")
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunHeartbeatCycle(ctx)
		}
	}
}

func (s *Scheduler) replicationLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunReplicationCycle(ctx)
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.store.Sweep(ctx); err != nil {
				s.log.Error("Expiry sweep failed", slog.String("err", err.Error()))
			}
		}
	}
}

// RunHeartbeatCycle sends one heartbeat to every peer and waits for the
// fan-out to complete. A peer's first successful exchange in an online
// period is followed by a capability exchange.
func (s *Scheduler) RunHeartbeatCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, peer := range s.registry.All() {
		wg.Add(1)
		go func(peer *peers.Peer) {
			defer wg.Done()
			s.heartbeatPeer(ctx, peer)
		}(peer)
	}
	wg.Wait()
}

func (s *Scheduler) heartbeatPeer(ctx context.Context, peer *peers.Peer) {
	msg, err := s.messenger.NewHeartbeat(peer)
	if err != nil {
		s.log.Error("Failed to build heartbeat", slog.String("err", err.Error()))
		return
	}

	if err := s.messenger.Send(ctx, peer, msg); err != nil {
		s.log.Debug("Heartbeat failed",
			slog.String("peer", peer.SystemID),
			slog.String("err", err.Error()))
		return
	}

	if peer.MarkCapabilitiesSent() {
		s.exchangeCapabilities(ctx, peer)
	}
}

func (s *Scheduler) exchangeCapabilities(ctx context.Context, peer *peers.Peer) {
	msg, err := s.messenger.NewCapabilityExchange(peer, s.caps.Describe())
	if err != nil {
		s.log.Error("Failed to build capability exchange", slog.String("err", err.Error()))
		return
	}

	if err := s.messenger.Send(ctx, peer, msg); err != nil {
		s.log.Warn("Capability exchange failed",
			slog.String("peer", peer.SystemID),
			slog.String("err", err.Error()))
	}
}

// RunReplicationCycle pushes pending keys to every online peer and waits
// for the fan-out to complete. Offline and not-yet-seen peers are skipped;
// the heartbeat cycle brings them online first.
func (s *Scheduler) RunReplicationCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, peer := range s.registry.All() {
		if peer.Status() != interfaces.PeerOnline {
			continue
		}

		wg.Add(1)
		go func(peer *peers.Peer) {
			defer wg.Done()
			s.replicateTo(ctx, peer)
		}(peer)
	}
	wg.Wait()
}

// replicateTo sends every pending record to one peer, stopping at the first
// delivery failure. A key is marked synced only after the peer acknowledged
// it, so interrupted cycles resume where they left off.
func (s *Scheduler) replicateTo(ctx context.Context, peer *peers.Peer) {
	pending := s.store.PendingFor(peer.SystemID)
	if len(pending) == 0 {
		return
	}

	s.log.Debug("Replicating keys",
		slog.String("peer", peer.SystemID),
		slog.Int("pending", len(pending)))

	for _, record := range pending {
		if ctx.Err() != nil {
			return
		}

		// The pending snapshot can go stale while the cycle runs: a key
		// retrieved since PendingFor returned must not leave this provider.
		if record.IsConsumed() {
			continue
		}

		msg, err := s.messenger.NewKeySync(peer, record)
		if errors.Is(err, interfaces.ErrAlreadyConsumed) {
			continue
		}
		if err != nil {
			s.log.Error("Failed to build key sync message",
				slog.String("keyId", record.KeyID.String()),
				slog.String("err", err.Error()))
			continue
		}

		if err := s.messenger.Send(ctx, peer, msg); err != nil {
			s.log.Warn("Key replication interrupted",
				slog.String("peer", peer.SystemID),
				slog.String("err", err.Error()))
			return
		}

		if err := s.store.MarkSynced(ctx, record.KeyID, peer.SystemID); err != nil {
			s.log.Error("Failed to persist sync marker",
				slog.String("keyId", record.KeyID.String()),
				slog.String("err", err.Error()))
		}
	}
}
