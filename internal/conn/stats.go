package conn

import "sync/atomic"

// Statistics holds the connection's running counters, the expanded
// field set spec.md's supplemented features call for (SPEC_FULL.md
// §6), atomic so Stats() can be read from any goroutine without
// taking the connection's locks.
type Statistics struct {
	PktSentTotal        uint64
	PktRecvTotal        uint64
	PktLostTotal        uint64
	PktRetransTotal     uint64
	PktSndDropTotal     uint64
	PktRcvDropTotal     uint64
	PktRcvUndecryptTotal uint64

	BytesSentTotal uint64
	BytesRecvTotal uint64

	msRTT        uint64 // microseconds, stored as uint64 bit pattern via atomic
	mbpsSendRate uint64
	mbpsRecvRate uint64
}

func (s *Statistics) incSent(n uint64)   { atomic.AddUint64(&s.PktSentTotal, n) }
func (s *Statistics) incRecv(n uint64)   { atomic.AddUint64(&s.PktRecvTotal, n) }
func (s *Statistics) incLost(n uint64)   { atomic.AddUint64(&s.PktLostTotal, n) }
func (s *Statistics) incRetrans(n uint64) { atomic.AddUint64(&s.PktRetransTotal, n) }
func (s *Statistics) incSndDrop(n uint64) { atomic.AddUint64(&s.PktSndDropTotal, n) }
func (s *Statistics) incRcvDrop(n uint64) { atomic.AddUint64(&s.PktRcvDropTotal, n) }
func (s *Statistics) incUndecrypt(n uint64) { atomic.AddUint64(&s.PktRcvUndecryptTotal, n) }
func (s *Statistics) addBytesSent(n uint64) { atomic.AddUint64(&s.BytesSentTotal, n) }
func (s *Statistics) addBytesRecv(n uint64) { atomic.AddUint64(&s.BytesRecvTotal, n) }

func (s *Statistics) setRTTMicros(v int64)   { atomic.StoreUint64(&s.msRTT, uint64(v)) }
func (s *Statistics) setMbpsSend(v uint64)   { atomic.StoreUint64(&s.mbpsSendRate, v) }
func (s *Statistics) setMbpsRecv(v uint64)   { atomic.StoreUint64(&s.mbpsRecvRate, v) }

// Snapshot is an immutable copy of Statistics for Stats() callers.
type Snapshot struct {
	PktSentTotal         uint64
	PktRecvTotal         uint64
	PktLostTotal         uint64
	PktRetransTotal      uint64
	PktSndDropTotal      uint64
	PktRcvDropTotal      uint64
	PktRcvUndecryptTotal uint64
	BytesSentTotal       uint64
	BytesRecvTotal       uint64
	MsRTT                int64
	MbpsSendRate         uint64
	MbpsRecvRate         uint64
}

// Snapshot reads a consistent-enough (non-transactional, atomics-backed)
// copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		PktSentTotal:         atomic.LoadUint64(&s.PktSentTotal),
		PktRecvTotal:         atomic.LoadUint64(&s.PktRecvTotal),
		PktLostTotal:         atomic.LoadUint64(&s.PktLostTotal),
		PktRetransTotal:      atomic.LoadUint64(&s.PktRetransTotal),
		PktSndDropTotal:      atomic.LoadUint64(&s.PktSndDropTotal),
		PktRcvDropTotal:      atomic.LoadUint64(&s.PktRcvDropTotal),
		PktRcvUndecryptTotal: atomic.LoadUint64(&s.PktRcvUndecryptTotal),
		BytesSentTotal:       atomic.LoadUint64(&s.BytesSentTotal),
		BytesRecvTotal:       atomic.LoadUint64(&s.BytesRecvTotal),
		MsRTT:                int64(atomic.LoadUint64(&s.msRTT)),
		MbpsSendRate:         atomic.LoadUint64(&s.mbpsSendRate),
		MbpsRecvRate:         atomic.LoadUint64(&s.mbpsRecvRate),
	}
}
