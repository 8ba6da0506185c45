package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srt-go/srtcore/internal/congestion"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/seq"
)

// fakeClock is a manually-advanced Clock for deterministic tests.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) Micros() int64  { return f.now.UnixMicro() }

// pipe wires two Connections' Sender interfaces directly together so
// a unit test can drive a full send/receive cycle without a real
// socket, grounded on the teacher's in-memory session tests.
type pipe struct {
	peer *Connection
}

func (p *pipe) Send(payload []byte, addr *net.UDPAddr) error {
	pk, err := pkt.Unpack(payload)
	if err != nil {
		return err
	}
	now := p.peer.clk.Now()
	if pk.IsControl {
		p.peer.ProcessControl(pk, now)
	} else {
		p.peer.ProcessData(pk, now)
	}
	return nil
}

func newPair(t *testing.T) (a, b *Connection) {
	t.Helper()
	clk := &fakeClock{now: time.Now()}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}

	a = New(Config{
		LocalSocketID: 1,
		PeerSocketID:  2,
		PeerAddr:      addr,
		ISN:           seq.SeqNo(100),
		PeerISN:       seq.SeqNo(200),
		MSS:           1500,
		FlightWindow:  256,
		TSBPDEnabled:  false,
		Clock:         clk,
		Out:           nil, // wired below
		Congestion:    congestion.NewLiveController(1500, 0),
	})
	b = New(Config{
		LocalSocketID: 2,
		PeerSocketID:  1,
		PeerAddr:      addr,
		ISN:           seq.SeqNo(200),
		PeerISN:       seq.SeqNo(100),
		MSS:           1500,
		FlightWindow:  256,
		TSBPDEnabled:  false,
		Clock:         clk,
		Out:           nil,
		Congestion:    congestion.NewLiveController(1500, 0),
	})
	a.out = &pipe{peer: b}
	b.out = &pipe{peer: a}
	return a, b
}

func TestSendRecvDelivers(t *testing.T) {
	a, b := newPair(t)

	ok := a.SendMessage([]byte("hello"), 0, true)
	require.True(t, ok)

	now := a.clk.Now()
	require.True(t, a.NextToSend(now))

	dst := make([]byte, 64)
	n := b.ReceiveMessage(dst)
	require.Equal(t, "hello", string(dst[:n]))

	snap := a.Stats()
	require.EqualValues(t, 1, snap.PktSentTotal)
	bsnap := b.Stats()
	require.EqualValues(t, 1, bsnap.PktRecvTotal)
}

func TestNextToSendRespectsSchedule(t *testing.T) {
	a, _ := newPair(t)
	require.True(t, a.SendMessage([]byte("x"), 0, true))

	now := a.clk.Now()
	require.True(t, a.NextToSend(now))
	// Immediately after, the congestion schedule should defer the next
	// send until targetTime elapses.
	require.False(t, a.NextToSend(now))
}

func TestACKAdvancesSendBuffer(t *testing.T) {
	a, b := newPair(t)
	require.True(t, a.SendMessage([]byte("payload"), 0, true))

	now := a.clk.Now()
	require.True(t, a.NextToSend(now))

	dst := make([]byte, 64)
	require.Greater(t, b.ReceiveMessage(dst), 0)

	b.sendACK(now)

	a.sendMu.Lock()
	lastAck := a.sndLastAck
	a.sendMu.Unlock()
	require.Equal(t, seq.SeqNo(101), lastAck)
}

func TestMarkBrokenAndClosedTransitions(t *testing.T) {
	a, _ := newPair(t)
	require.Equal(t, StateConnected, a.State())

	a.MarkBroken()
	require.Equal(t, StateBroken, a.State())

	a.MarkClosed()
	require.Equal(t, StateClosed, a.State())
}

func TestSendMessageRejectedWhenNotConnected(t *testing.T) {
	a, _ := newPair(t)
	a.MarkBroken()
	require.False(t, a.SendMessage([]byte("x"), 0, true))
}
