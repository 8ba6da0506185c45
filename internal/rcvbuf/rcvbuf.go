// Package rcvbuf implements RcvBuffer and Time-Stamp-Based Packet
// Delivery (TSBPD) per spec.md §4.5: a ring indexed by offset from a
// base sequence, releasing packets for the application only once their
// computed playTime has arrived. The package starts no goroutine of its
// own: TSBPD scheduling runs in Tick, which the owning connection calls
// on each multiplexer timer tick.
package rcvbuf

import (
	"sync"
	"time"

	"github.com/srt-go/srtcore/internal/clock"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/seq"
)

// AddResult is the outcome of Buffer.AddData.
type AddResult int

const (
	Accepted AddResult = iota
	Duplicate
	TooLate
	TooFar
)

type slotEntry struct {
	pkt       *pkt.Packet
	playTime  time.Time
	occupied  bool
}

// Buffer is RcvBuffer: a ring of received-but-not-yet-delivered data
// packets, plus the TSBPD drift estimator.
type Buffer struct {
	mu sync.Mutex

	slots   []slotEntry
	baseSeq seq.SeqNo
	head    int

	clk           clock.Clock
	peerStartTime time.Time
	rcvLatency    time.Duration

	// drift is the exponentially-filtered peer-vs-local clock skew,
	// in the same units as time.Duration, added into every playTime
	// computation.
	drift      time.Duration
	driftCap   time.Duration
	hasDrift   bool

	tsbpdEnabled bool
	tlPktDrop    bool

	readyCh chan struct{}
	once    sync.Once

	// onDrop is invoked with the [lo,hi] range skipped by a TSBPD
	// drop, so the caller can emit DropReq to the peer.
	onDrop func(lo, hi seq.SeqNo)
}

// Config bundles Buffer construction parameters.
type Config struct {
	Capacity     int
	StartSeq     seq.SeqNo
	Clock        clock.Clock
	PeerStart    time.Time
	Latency      time.Duration
	TSBPDEnabled bool
	TLPktDrop    bool
	OnDrop       func(lo, hi seq.SeqNo)
}

// New constructs a Buffer from cfg.
func New(cfg Config) *Buffer {
	return &Buffer{
		slots:         make([]slotEntry, cfg.Capacity),
		baseSeq:       cfg.StartSeq,
		clk:           cfg.Clock,
		peerStartTime: cfg.PeerStart,
		rcvLatency:    cfg.Latency,
		driftCap:      4 * time.Millisecond,
		tsbpdEnabled:  cfg.TSBPDEnabled,
		tlPktDrop:     cfg.TLPktDrop,
		readyCh:       make(chan struct{}, 1),
		onDrop:        cfg.OnDrop,
	}
}

func (b *Buffer) slot(s seq.SeqNo) int {
	off := int(s.Diff(b.baseSeq))
	return (b.head + off) % len(b.slots)
}

func (b *Buffer) playTime(p *pkt.Packet) time.Time {
	t := b.peerStartTime.Add(time.Duration(p.Timestamp) * time.Microsecond).Add(b.rcvLatency)
	if b.hasDrift {
		t = t.Add(b.drift)
	}
	return t
}

// AddData inserts a received data packet into the ring.
func (b *Buffer) AddData(p *pkt.Packet) AddResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.SeqNo.Before(b.baseSeq) {
		return TooLate
	}
	off := int(p.SeqNo.Diff(b.baseSeq))
	if off >= len(b.slots) {
		return TooFar
	}
	idx := b.slot(p.SeqNo)
	if b.slots[idx].occupied {
		return Duplicate
	}
	b.slots[idx] = slotEntry{pkt: p, playTime: b.playTime(p), occupied: true}
	b.signalReady()
	return Accepted
}

// UpdateDrift folds a new peer-vs-local skew sample into the
// exponential filter, capping the per-update adjustment so a single
// bursty sample cannot move the time base far.
func (b *Buffer) UpdateDrift(sample time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sample > b.driftCap {
		sample = b.driftCap
	} else if sample < -b.driftCap {
		sample = -b.driftCap
	}
	if !b.hasDrift {
		b.drift = sample
		b.hasDrift = true
		return
	}
	// 1/8 weighted filter, the same shape as SRT's RTT/RTTVar EWMA.
	b.drift = b.drift + (sample-b.drift)/8
}

// SampleDrift computes the clock-skew implied by one packet's peer
// timestamp against its local arrival time and folds it into
// UpdateDrift, per spec.md §4.5's playTime correction.
func (b *Buffer) SampleDrift(timestamp uint32, arrival time.Time) {
	expected := b.peerStartTime.Add(time.Duration(timestamp) * time.Microsecond)
	b.UpdateDrift(arrival.Sub(expected))
}

func (b *Buffer) signalReady() {
	select {
	case b.readyCh <- struct{}{}:
	default:
	}
}

// AckData releases filled slots from the head up to and including
// untilSeq, advancing the base sequence past them; it stops at the
// first empty slot. Skipping a gap for a TSBPD drop (and calling
// onDrop) is done by Tick, not here.
func (b *Buffer) AckData(untilSeq seq.SeqNo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked(untilSeq)
}

func (b *Buffer) advanceLocked(untilSeq seq.SeqNo) {
	for b.baseSeq.Before(untilSeq) || b.baseSeq == untilSeq {
		idx := b.head
		if !b.slots[idx].occupied {
			break
		}
		b.slots[idx] = slotEntry{}
		b.head = (b.head + 1) % len(b.slots)
		b.baseSeq = b.baseSeq.Incr()
		if b.baseSeq.After(untilSeq) {
			break
		}
	}
}

// Tick runs one TSBPD scheduling pass: if the head slot is due, it
// signals read-readiness; if the head is empty but a later slot is
// both filled and overdue, and TLPktDrop is enabled, it skips the gap
// and reports the dropped range via onDrop. Returns the duration until
// the next slot becomes due, for the caller's timer, or zero if
// nothing is pending.
func (b *Buffer) Tick(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tsbpdEnabled {
		return 0
	}

	head := &b.slots[b.head]
	if head.occupied {
		if !now.Before(head.playTime) {
			b.signalReady()
			return 0
		}
		return head.playTime.Sub(now)
	}

	if !b.tlPktDrop {
		return 0
	}
	// Head is empty: scan forward for the first filled, overdue slot.
	for i := 1; i < len(b.slots); i++ {
		idx := (b.head + i) % len(b.slots)
		s := &b.slots[idx]
		if !s.occupied {
			continue
		}
		if now.Before(s.playTime) {
			return s.playTime.Sub(now)
		}
		lo := b.baseSeq
		hi := b.baseSeq.Add(int32(i) - 1)
		for j := 0; j < i; j++ {
			b.slots[b.head] = slotEntry{}
			b.head = (b.head + 1) % len(b.slots)
			b.baseSeq = b.baseSeq.Incr()
		}
		if b.onDrop != nil {
			b.onDrop(lo, hi)
		}
		b.signalReady()
		return 0
	}
	return 0
}

// ReadBuffer drains up to n contiguous playable bytes starting at the
// head. In message mode (wholeMessage=true) it only returns a complete
// message (First..Last run); in stream mode it returns any playable
// prefix.
func (b *Buffer) ReadBuffer(n int, wholeMessage bool) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()
	var out []byte
	i := 0
	complete := false
	for len(out) < n {
		idx := (b.head + i) % len(b.slots)
		s := &b.slots[idx]
		if !s.occupied || (b.tsbpdEnabled && now.Before(s.playTime)) {
			break
		}
		if wholeMessage && s.pkt.Boundary&pkt.BoundaryFirst == 0 && i == 0 {
			break
		}
		out = append(out, s.pkt.Payload...)
		isLast := s.pkt.Boundary&pkt.BoundaryLast != 0
		i++
		if wholeMessage && !isLast {
			continue
		}
		if wholeMessage {
			complete = true
			break
		}
	}
	if wholeMessage && !complete {
		return nil
	}
	if len(out) > 0 {
		b.advanceLocked(b.baseSeq.Add(int32(i) - 1))
	}
	return out
}

// Ready returns the channel signaled whenever read-readiness changes,
// for an application goroutine to select on.
func (b *Buffer) Ready() <-chan struct{} {
	return b.readyCh
}
