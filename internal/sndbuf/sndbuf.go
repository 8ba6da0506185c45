// Package sndbuf implements SndBuffer, the ring of outgoing payload
// units described in spec.md §4.4: a message larger than one unit
// spans consecutive slots tagged First/Middle/Last, and each slot
// tracks its own TTL so a stale retransmission can be reported as
// Dropped instead of resent.
package sndbuf

import (
	"sync"
	"time"

	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/seq"
)

// ReadResult is the outcome of a SndBuffer.ReadData lookup.
type ReadResult int

const (
	ReadOK ReadResult = iota
	ReadDropped
	ReadNotFound
)

type unit struct {
	data      []byte
	boundary  pkt.Boundary
	inOrder   bool
	msgNo     seq.MsgNo
	srcTime   uint32
	deadline  time.Time
	hasExpiry bool
	valid     bool
}

// Buffer is SndBuffer: a ring keyed by sequence number, holding
// unacknowledged and not-yet-sent units.
type Buffer struct {
	mu sync.Mutex

	units    []unit
	baseSeq  seq.SeqNo // sequence number of units[head]
	nextSeq  seq.SeqNo // next seq to be assigned by AddBuffer
	head     int       // index of baseSeq within units (ring offset)
	count    int       // number of occupied slots
	nextMsg  seq.MsgNo

	payloadSize int
}

// New constructs a Buffer with the given ring capacity (in units) and
// payload size per unit.
func New(capacity, payloadSize int, startSeq seq.SeqNo) *Buffer {
	return &Buffer{
		units:       make([]unit, capacity),
		baseSeq:     startSeq,
		nextSeq:     startSeq,
		payloadSize: payloadSize,
	}
}

func (b *Buffer) slot(s seq.SeqNo) int {
	off := int(s.Diff(b.baseSeq))
	return (b.head + off) % len(b.units)
}

// AddBuffer splits data into payloadSize chunks, assigns a shared
// MsgNo, and appends them to the ring with the given TTL (zero means
// no expiry) and in-order flag. Returns the sequence number of the
// first unit appended, the MsgNo assigned, and ok=false if the ring
// has no room (caller should surface srtcore.KindNoBuf).
func (b *Buffer) AddBuffer(data []byte, ttl time.Duration, inOrder bool, srcTime uint32) (seq.SeqNo, seq.MsgNo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chunks := chunk(data, b.payloadSize)
	if b.count+len(chunks) > len(b.units) {
		return 0, 0, false
	}

	first := b.nextSeq
	msgNo := b.nextMsg
	b.nextMsg = b.nextMsg.Incr()

	var deadline time.Time
	hasExpiry := ttl > 0
	if hasExpiry {
		deadline = time.Now().Add(ttl)
	}

	for i, c := range chunks {
		s := b.nextSeq
		idx := b.slot(s)
		boundary := pkt.BoundaryMiddle
		if i == 0 {
			boundary |= pkt.BoundaryFirst
		}
		if i == len(chunks)-1 {
			boundary |= pkt.BoundaryLast
		}
		b.units[idx] = unit{
			data:      c,
			boundary:  boundary,
			inOrder:   inOrder,
			msgNo:     msgNo,
			srcTime:   srcTime,
			deadline:  deadline,
			hasExpiry: hasExpiry,
			valid:     true,
		}
		b.count++
		b.nextSeq = b.nextSeq.Incr()
	}
	return first, msgNo, true
}

// ReadData retrieves a unit by sequence number for first-send or
// retransmission.
func (b *Buffer) ReadData(s seq.SeqNo) ([]byte, pkt.Boundary, bool, seq.MsgNo, uint32, ReadResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.Before(b.baseSeq) || !s.Before(b.nextSeq) {
		return nil, 0, false, 0, 0, ReadNotFound
	}
	u := &b.units[b.slot(s)]
	if !u.valid {
		return nil, 0, false, 0, 0, ReadNotFound
	}
	if u.hasExpiry && time.Now().After(u.deadline) {
		return nil, 0, false, 0, 0, ReadDropped
	}
	return u.data, u.boundary, u.inOrder, u.msgNo, u.srcTime, ReadOK
}

// AckData releases the first n units (marks them free and advances
// base), called when an ACK acknowledges delivery up through them.
func (b *Buffer) AckData(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < n && b.count > 0; i++ {
		b.units[b.head].valid = false
		b.units[b.head] = unit{}
		b.head = (b.head + 1) % len(b.units)
		b.baseSeq = b.baseSeq.Incr()
		b.count--
	}
}

// CurrBufSize returns the number of occupied units, a pacing metric.
func (b *Buffer) CurrBufSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// AvgPayloadSize returns the configured per-unit payload size. SRT
// uses a fixed unit size, so this is a constant rather than a running
// average, but is named to match the SndBuffer.getAvgPayloadSize
// operation spec.md §4.4 describes.
func (b *Buffer) AvgPayloadSize() int {
	return b.payloadSize
}

func chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
