// Package losslist implements SndLossList and RcvLossList: ordered sets
// of packet sequence numbers stored as coalesced [lo,hi] ranges, per
// spec.md §4.2/§4.3. The coalesced-range representation is grounded on
// original_source/srtcore/list.cpp's single-fast-path-plus-range
// design: a contiguous run of lost sequences collapses to one range
// entry instead of one entry per sequence number.
package losslist

import (
	"sort"
	"sync"

	"github.com/srt-go/srtcore/internal/seq"
)

type rng struct {
	lo, hi seq.SeqNo
}

// List is a wrap-aware sparse set of sequence numbers, safe for
// concurrent use. The zero value is ready to use.
type List struct {
	mu     sync.Mutex
	ranges []rng // kept sorted by lo in arc order relative to base
	base   seq.SeqNo
	hasBase bool
}

// Insert adds the closed range [lo,hi] to the list, coalescing with
// adjacent or overlapping ranges and ignoring sequences already
// present. Returns the number of previously-absent sequence numbers
// added.
func (l *List) Insert(lo, hi seq.SeqNo) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasBase {
		l.base = lo
		l.hasBase = true
	}

	before := l.totalLocked()
	l.ranges = append(l.ranges, rng{lo, hi})
	l.sortAndCoalesceLocked()
	return l.totalLocked() - before
}

// Remove drops every sequence number with seq ≤ upTo (wrap-aware
// SeqNo comparison), as when an ACK retires part of a loss list.
func (l *List) Remove(upTo seq.SeqNo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.ranges[:0]
	for _, r := range l.ranges {
		switch {
		case upTo.Before(r.lo):
			// upTo precedes the whole range: nothing retired.
			out = append(out, r)
		case r.hi.After(upTo):
			// upTo falls inside the range: retire its lower part.
			out = append(out, rng{upTo.Incr(), r.hi})
		default:
			// upTo at or past hi: whole range retired.
		}
	}
	l.ranges = out
}

// PopFirst extracts and returns the lowest sequence number in the
// list, relative to base's arc ordering, or ok=false if empty.
func (l *List) PopFirst() (s seq.SeqNo, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ranges) == 0 {
		return 0, false
	}
	l.sortAndCoalesceLocked()
	first := l.ranges[0]
	s = first.lo
	if first.lo == first.hi {
		l.ranges = l.ranges[1:]
	} else {
		l.ranges[0].lo = first.lo.Incr()
	}
	return s, true
}

// Length returns the total count of sequence numbers represented
// (not the number of ranges).
func (l *List) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

func (l *List) totalLocked() int {
	n := 0
	for _, r := range l.ranges {
		n += int(r.hi.Diff(r.lo)) + 1
	}
	return n
}

func (l *List) sortAndCoalesceLocked() {
	if len(l.ranges) == 0 {
		return
	}
	sort.Slice(l.ranges, func(i, j int) bool {
		return l.ranges[i].lo.Diff(l.base) < l.ranges[j].lo.Diff(l.base)
	})
	out := l.ranges[:1]
	for _, r := range l.ranges[1:] {
		last := &out[len(out)-1]
		if r.lo.Diff(last.hi) <= 1 {
			if r.hi.After(last.hi) {
				last.hi = r.hi
			}
			continue
		}
		out = append(out, r)
	}
	l.ranges = out
}

// GetLossArray serialises ranges for an outbound NAK body until the
// output holds limit or more words; a range entry is added whole, so
// the result can reach limit+1 words. Per spec.md §4.3, a lone
// sequence is a single word with its high bit
// clear, a range is two words (begin with high bit set, then end).
func (l *List) GetLossArray(limit int) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sortAndCoalesceLocked()
	out := make([]uint32, 0, limit)
	for _, r := range l.ranges {
		if len(out) >= limit {
			break
		}
		if r.lo == r.hi {
			out = append(out, uint32(r.lo)&0x7FFFFFFF)
		} else {
			out = append(out, uint32(r.lo)|0x80000000, uint32(r.hi)&0x7FFFFFFF)
		}
	}
	return out
}
