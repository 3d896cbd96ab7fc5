package chat

import "sync"

// Registry tracks live, handshake-complete peer connections. A single mutex
// guards the set; it is held only for map mutation and snapshotting, never
// across network I/O, so one slow peer cannot stall the others.
type Registry struct {
	mu    sync.Mutex
	peers map[*Peer]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[*Peer]struct{})}
}

// Register adds a connection. Callers must only register peers whose
// handshake has completed; the server upholds this.
func (r *Registry) Register(p *Peer) {
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes a connection. Removing an absent peer is a no-op, which
// keeps Close idempotent.
func (r *Registry) Unregister(p *Peer) {
	r.mu.Lock()
	delete(r.peers, p)
	r.mu.Unlock()
}

// Count returns the number of live connections. It never touches the network.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Snapshot returns the current connections as a slice. Peers that disconnect
// after the snapshot simply fail their individual sends.
func (r *Registry) Snapshot() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// Broadcast sends text to every registered peer and returns how many sends
// succeeded. Individual failures are swallowed; a failing peer is torn down
// by its own send path and drops out of the registry afterward.
func (r *Registry) Broadcast(text string) int {
	ok := 0
	for _, p := range r.Snapshot() {
		if err := p.SendMessage(text); err != nil {
			continue
		}
		ok++
	}
	return ok
}
