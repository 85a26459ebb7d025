package main

import (
	"context"
	"fmt"
	"sync"
)

// Sender is the minimal interface the hub needs from a connection: the
// ability to push an envelope to the connected client.
type Sender interface {
	Send(Envelope) error
}

// PresenceRecorder mirrors registry changes into the shared store so
// they outlive this process. May be nil (tests, single-box setups).
type PresenceRecorder interface {
	Add(ctx context.Context, connID string, neighborID int64) error
	Remove(ctx context.Context, connID string) error
}

// ConnectionHub is the connection registry: every live connection, plus
// the two-way mapping between connection ids and neighbor ids that the
// identify handshake establishes. A neighbor can hold several
// connections at once (multiple devices); a connection belongs to at
// most one neighbor.
type ConnectionHub struct {
	mu         sync.RWMutex
	senders    map[string]Sender            // every live connection
	identities map[string]int64             // conn id → neighbor id
	streams    map[int64]map[string]Sender  // neighbor id → conn id → sender
	presence   PresenceRecorder
}

// NewConnectionHub creates a new hub. presence may be nil.
func NewConnectionHub(presence PresenceRecorder) *ConnectionHub {
	return &ConnectionHub{
		senders:    make(map[string]Sender),
		identities: make(map[string]int64),
		streams:    make(map[int64]map[string]Sender),
		presence:   presence,
	}
}

// Register adds an unidentified connection. No-op if already present.
func (h *ConnectionHub) Register(connID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.senders[connID]; ok {
		return
	}
	h.senders[connID] = s
}

// Identify binds a registered connection to a neighbor. Calling again
// with the same pair is a no-op; calling with a different neighbor
// reassigns the connection and drops the stale reverse entry, so the
// old neighbor can't receive fanout through it anymore.
func (h *ConnectionHub) Identify(ctx context.Context, connID string, neighborID int64) error {
	h.mu.Lock()
	s, ok := h.senders[connID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("unknown connection %s", connID)
	}
	if old, identified := h.identities[connID]; identified {
		if old == neighborID {
			h.mu.Unlock()
			return nil
		}
		h.dropReverse(old, connID)
	}
	h.identities[connID] = neighborID
	if _, ok := h.streams[neighborID]; !ok {
		h.streams[neighborID] = make(map[string]Sender)
	}
	h.streams[neighborID][connID] = s
	h.mu.Unlock()

	if h.presence != nil {
		return h.presence.Add(ctx, connID, neighborID)
	}
	return nil
}

// UserFor resolves a connection to its neighbor, if identified.
func (h *ConnectionHub) UserFor(connID string) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.identities[connID]
	return id, ok
}

// ConnectionsFor returns the live connection ids of a neighbor,
// possibly none.
func (h *ConnectionHub) ConnectionsFor(neighborID int64) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.streams[neighborID]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// Unregister removes a connection from both directions of the mapping.
// Safe to call for connections that never identified.
func (h *ConnectionHub) Unregister(ctx context.Context, connID string) error {
	h.mu.Lock()
	if neighborID, ok := h.identities[connID]; ok {
		h.dropReverse(neighborID, connID)
		delete(h.identities, connID)
	}
	delete(h.senders, connID)
	h.mu.Unlock()

	if h.presence != nil {
		return h.presence.Remove(ctx, connID)
	}
	return nil
}

// dropReverse removes connID from a neighbor's connection set. Empty
// sets are not retained. Caller holds the lock.
func (h *ConnectionHub) dropReverse(neighborID int64, connID string) {
	if conns, ok := h.streams[neighborID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.streams, neighborID)
		}
	}
}

// SendToUser attempts to deliver the envelope to every live connection
// of the neighbor. If the neighbor is not connected, returns an error.
// Delivery is best-effort: it tries every connection and returns the
// first error encountered (if any).
func (h *ConnectionHub) SendToUser(neighborID int64, env Envelope) error {
	h.mu.RLock()
	conns := make(map[string]Sender, len(h.streams[neighborID]))
	for id, s := range h.streams[neighborID] {
		conns[id] = s
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("neighbor %d not connected", neighborID)
	}

	var firstErr error
	// Track connections which failed so we can unregister them and
	// avoid keeping stale/broken transports in the hub.
	var failedIDs []string

	for id, s := range conns {
		if err := s.Send(env); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}

	for _, id := range failedIDs {
		_ = h.Unregister(context.Background(), id)
	}

	return firstErr
}
