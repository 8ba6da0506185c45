// Package seq implements SRT's wrap-aware sequence and message number
// arithmetic. Packet sequence numbers are 31-bit (the top bit of the
// header word is a control flag), message numbers are 26-bit (the top
// 6 bits are the boundary/order/encryption flags), and both wrap
// modulo their field width rather than overflowing.
package seq

const (
	// SeqNoMax is one past the largest legal 31-bit sequence number.
	SeqNoMax = 1 << 31
	// MsgNoMax is one past the largest legal 26-bit message number.
	MsgNoMax = 1 << 26

	seqHalf = SeqNoMax / 2
	msgHalf = MsgNoMax / 2
)

// SeqNo is a 31-bit wrapping packet sequence number.
type SeqNo uint32

// MsgNo is a 26-bit wrapping message number.
type MsgNo uint32

// Incr returns the next sequence number after s, wrapping at SeqNoMax.
func (s SeqNo) Incr() SeqNo {
	return SeqNo((uint32(s) + 1) % SeqNoMax)
}

// Add returns s advanced by n (n may be negative), wrapping at SeqNoMax.
func (s SeqNo) Add(n int32) SeqNo {
	v := (int64(s) + int64(n)) % SeqNoMax
	if v < 0 {
		v += SeqNoMax
	}
	return SeqNo(v)
}

// Cmp compares two sequence numbers in the half-open circular space:
// negative if a is logically before b, positive if after, zero if
// equal. Treats differences greater than half the field width as having
// wrapped.
func (a SeqNo) Cmp(b SeqNo) int {
	d := int32(uint32(a) - uint32(b))
	switch {
	case d == 0:
		return 0
	case d > 0 && d < seqHalf, d < 0 && -d >= seqHalf:
		return 1
	default:
		return -1
	}
}

// Before reports whether a is logically before b.
func (a SeqNo) Before(b SeqNo) bool { return a.Cmp(b) < 0 }

// After reports whether a is logically after b.
func (a SeqNo) After(b SeqNo) bool { return a.Cmp(b) > 0 }

// Diff returns the circular distance from b to a (a - b), signed,
// treating the sequence space as wrapping at SeqNoMax.
func (a SeqNo) Diff(b SeqNo) int32 {
	d := int64(a) - int64(b)
	if d >= seqHalf {
		d -= SeqNoMax
	} else if d < -seqHalf {
		d += SeqNoMax
	}
	return int32(d)
}

// Incr returns the next message number after m, wrapping at MsgNoMax.
func (m MsgNo) Incr() MsgNo {
	return MsgNo((uint32(m) + 1) % MsgNoMax)
}

// Cmp compares two message numbers in their circular space, analogous
// to SeqNo.Cmp.
func (m MsgNo) Cmp(n MsgNo) int {
	d := int32(uint32(m) - uint32(n))
	switch {
	case d == 0:
		return 0
	case d > 0 && d < msgHalf, d < 0 && -d >= msgHalf:
		return 1
	default:
		return -1
	}
}
