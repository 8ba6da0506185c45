package mux

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srt-go/srtcore/internal/clock"
	"github.com/srt-go/srtcore/internal/conn"
	"github.com/srt-go/srtcore/internal/seq"
)

func newTestConn(t *testing.T, localID, peerID uint32) *conn.Connection {
	t.Helper()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	return conn.New(conn.Config{
		LocalSocketID: localID,
		PeerSocketID:  peerID,
		PeerAddr:      addr,
		ISN:           seq.SeqNo(1),
		PeerISN:       seq.SeqNo(2),
		MSS:           1500,
		FlightWindow:  64,
		Clock:         clock.NewSystem(),
		Out:           discardSender{},
	})
}

type discardSender struct{}

func (discardSender) Send(payload []byte, addr *net.UDPAddr) error { return nil }

func TestRegistryAllocateIDNoCollision(t *testing.T) {
	r := NewRegistry()
	c := newTestConn(t, 0, 99)
	id := r.AllocateID()
	require.NotZero(t, id)

	c2 := newTestConn(t, id, 100)
	r.Register(c2, 7)
	id2 := r.AllocateID()
	require.NotEqual(t, id, id2)
	_ = c
}

func TestRegistryLookupAndRemove(t *testing.T) {
	r := NewRegistry()
	c := newTestConn(t, 42, 7)
	r.Register(c, 99)

	require.Same(t, c, r.Lookup(42))
	require.Same(t, c, r.LookupAccept(c.PeerAddr().String(), 7, 99))
	require.Nil(t, r.LookupAccept(c.PeerAddr().String(), 7, 100))

	r.Remove(42)
	require.Nil(t, r.Lookup(42))
	require.Nil(t, r.LookupAccept(c.PeerAddr().String(), 7, 99))
}

func TestRegistryConnectionsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(newTestConn(t, 1, 10), 1)
	r.Register(newTestConn(t, 2, 11), 2)

	conns := r.Connections()
	require.Len(t, conns, 2)
}

func TestMultiplexerSweepTwoPhaseGC(t *testing.T) {
	r := NewRegistry()
	c := newTestConn(t, 55, 5)
	r.Register(c, 1)
	c.MarkBroken()

	m := &Multiplexer{registry: r}
	now := time.Now()

	m.sweep(now)
	require.NotNil(t, r.Lookup(55), "first sweep only records brokenSince, does not remove")

	m.sweep(now.Add(gcGrace + time.Millisecond))
	require.Nil(t, r.Lookup(55), "second sweep past the grace period removes the connection")
}
