package rcvbuf

import (
	"testing"
	"time"

	"github.com/srt-go/srtcore/internal/clock"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/seq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkPacket(s seq.SeqNo, boundary pkt.Boundary, payload string) *pkt.Packet {
	return &pkt.Packet{SeqNo: s, Boundary: boundary, Payload: []byte(payload)}
}

func TestAddDataResults(t *testing.T) {
	b := New(Config{Capacity: 8, StartSeq: 10, Clock: clock.NewSystem()})
	assert.Equal(t, Accepted, b.AddData(mkPacket(10, pkt.BoundarySolo, "a")))
	assert.Equal(t, Duplicate, b.AddData(mkPacket(10, pkt.BoundarySolo, "a")))
	assert.Equal(t, TooLate, b.AddData(mkPacket(5, pkt.BoundarySolo, "a")))
	assert.Equal(t, TooFar, b.AddData(mkPacket(100, pkt.BoundarySolo, "a")))
}

func TestReadBufferStreamMode(t *testing.T) {
	b := New(Config{Capacity: 8, StartSeq: 0, Clock: clock.NewSystem(), TSBPDEnabled: false})
	b.AddData(mkPacket(0, pkt.BoundarySolo, "ab"))
	b.AddData(mkPacket(1, pkt.BoundarySolo, "cd"))
	out := b.ReadBuffer(100, false)
	assert.Equal(t, "abcd", string(out))
}

func TestReadBufferMessageModeRequiresWholeMessage(t *testing.T) {
	b := New(Config{Capacity: 8, StartSeq: 0, Clock: clock.NewSystem(), TSBPDEnabled: false})
	b.AddData(mkPacket(0, pkt.BoundaryFirst, "ab"))
	out := b.ReadBuffer(100, true)
	assert.Empty(t, out, "incomplete message must not be delivered")

	b.AddData(mkPacket(1, pkt.BoundaryLast, "cd"))
	out = b.ReadBuffer(100, true)
	assert.Equal(t, "abcd", string(out))
}

func TestTickSignalsWhenDue(t *testing.T) {
	now := time.Now()
	b := New(Config{
		Capacity:     8,
		StartSeq:     0,
		Clock:        clock.NewSystem(),
		PeerStart:    now.Add(-time.Second),
		TSBPDEnabled: true,
	})
	b.AddData(mkPacket(0, pkt.BoundarySolo, "a"))
	d := b.Tick(now)
	assert.Equal(t, time.Duration(0), d)
	select {
	case <-b.Ready():
	default:
		t.Fatal("expected ready signal")
	}
}

func TestTickDropsLateGapWithTLPktDrop(t *testing.T) {
	now := time.Now()
	var dropped []seq.SeqNo
	b := New(Config{
		Capacity:     8,
		StartSeq:     0,
		Clock:        clock.NewSystem(),
		PeerStart:    now.Add(-time.Second),
		TSBPDEnabled: true,
		TLPktDrop:    true,
		OnDrop: func(lo, hi seq.SeqNo) {
			for s := lo; ; s = s.Incr() {
				dropped = append(dropped, s)
				if s == hi {
					break
				}
			}
		},
	})
	// seq 0 missing, seq 1 present and overdue.
	b.AddData(mkPacket(1, pkt.BoundarySolo, "b"))
	b.Tick(now)
	require.Len(t, dropped, 1)
	assert.Equal(t, seq.SeqNo(0), dropped[0])
}

func TestUpdateDriftCapsSample(t *testing.T) {
	b := New(Config{Capacity: 8, StartSeq: 0, Clock: clock.NewSystem()})
	b.UpdateDrift(100 * time.Millisecond)
	b.mu.Lock()
	d := b.drift
	b.mu.Unlock()
	assert.LessOrEqual(t, d, 4*time.Millisecond)
}
