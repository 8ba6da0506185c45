// Package mux implements the Multiplexer and connection Registry
// spec.md §4.8 describes: one UDP endpoint shared by every connection
// bound to it, one SndQueue worker, one RcvQueue worker, one timer
// loop, and a two-phase GC that promotes broken connections to closed
// after a grace period. Grounded on the teacher's RakNetHandler
// (address-keyed session map + cleanup ticker), generalized to a
// socket-id-keyed registry plus the secondary duplicate-handshake
// index spec.md calls for; the two-phase close/GC delay is grounded
// on original_source/srtcore/api.cpp's CUDTUnited socket table
// (see SPEC_FULL.md §6).
package mux

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/srt-go/srtcore/internal/conn"
)

// acceptKey identifies a listener-side in-progress or completed
// handshake for duplicate detection, per spec.md §4.7/§4.8.
type acceptKey struct {
	peerAddr string
	peerID   uint32
	peerISN  uint32
}

// Registry maps local socket ids to connections, plus the secondary
// (peerAddr, peerId, peerISN) index used to detect and answer
// duplicate Conclusion handshakes idempotently.
type Registry struct {
	mu sync.RWMutex

	byID     map[uint32]*conn.Connection
	byAccept map[acceptKey]*conn.Connection

	idSeed uint32
}

// NewRegistry constructs an empty Registry with a random 29-bit socket
// id seed, per spec.md §4.8.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[uint32]*conn.Connection),
		byAccept: make(map[acceptKey]*conn.Connection),
		idSeed:   uint32(rand.Int31()) & 0x1FFFFFFF,
	}
}

// AllocateID draws the next socket id, decrementing the 29-bit seed
// and re-drawing on collision, per spec.md §4.8.
func (r *Registry) AllocateID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.idSeed = (r.idSeed - 1) & 0x1FFFFFFF
		if r.idSeed == 0 {
			r.idSeed = uint32(rand.Int31())&0x1FFFFFFF | 1
		}
		if _, exists := r.byID[r.idSeed]; !exists {
			return r.idSeed
		}
	}
}

// Register adds c to the registry under both indexes.
func (r *Registry) Register(c *conn.Connection, peerISN uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.LocalID()] = c
	r.byAccept[acceptKey{c.PeerAddr().String(), c.PeerID(), peerISN}] = c
}

// Lookup returns the connection owning localID, or nil.
func (r *Registry) Lookup(localID uint32) *conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[localID]
}

// LookupAccept returns a previously-registered connection matching the
// listener-side duplicate-handshake key, or nil.
func (r *Registry) LookupAccept(peerAddr string, peerID uint32, peerISN uint32) *conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAccept[acceptKey{peerAddr, peerID, peerISN}]
}

// Remove deletes c from both indexes, called by the GC sweep.
func (r *Registry) Remove(localID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[localID]
	if !ok {
		return
	}
	delete(r.byID, localID)
	for k, v := range r.byAccept {
		if v == c {
			delete(r.byAccept, k)
		}
	}
}

// Connections returns a snapshot slice of all registered connections,
// for the SndQueue/timer loops to iterate without holding the
// registry lock during the walk.
func (r *Registry) Connections() []*conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn.Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// String implements fmt.Stringer for diagnostic logging.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("registry{connections=%d}", len(r.byID))
}
