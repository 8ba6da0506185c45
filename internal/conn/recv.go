package conn

import (
	"time"

	"github.com/srt-go/srtcore/internal/crypto"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/rcvbuf"
	"github.com/srt-go/srtcore/internal/seq"
)

// ProcessData handles one received data packet: inserts it into
// RcvBuffer, detects and records loss gaps, and updates arrival-rate
// statistics, per spec.md §4.7's "Receive dispatch" pseudocode.
func (c *Connection) ProcessData(p *pkt.Packet, now time.Time) {
	c.touchPeerAlive(now)
	c.sampleArrival(p, now)

	if c.tsbpd {
		c.rcvBuffer.SampleDrift(p.Timestamp, now)
	}

	if c.crypto != nil && p.KeySpec != pkt.KeyUnencrypted {
		slot := cryptoSlotFor(p.KeySpec)
		pt, err := c.crypto.Decrypt(slot, uint32(p.SeqNo), p.Payload)
		if err != nil {
			c.stats.incUndecrypt(1)
			return
		}
		p.Payload = pt
	}

	c.recvMu.Lock()
	if p.SeqNo.After(c.rcvCurrSeq) {
		gapLo := c.rcvCurrSeq.Incr()
		gapHi := p.SeqNo.Add(-1)
		if gapLo.Cmp(gapHi) <= 0 {
			added := c.rcvLossList.Insert(gapLo, gapHi)
			if added > 0 {
				c.stats.incLost(uint64(added))
			}
		}
		c.rcvCurrSeq = p.SeqNo
	} else if p.SeqNo.Before(c.rcvCurrSeq) {
		// Out-of-order arrival filling a previously reported gap.
		c.rcvLossList.Remove(p.SeqNo)
	}

	res := c.rcvBuffer.AddData(p)
	c.recvMu.Unlock()

	switch res {
	case rcvbuf.Accepted:
		c.stats.incRecv(1)
		c.stats.addBytesRecv(uint64(len(p.Payload)))
		c.signalRecvData()
	case rcvbuf.Duplicate, rcvbuf.TooLate:
		// Already delivered or retired; harmless re-arrival.
	case rcvbuf.TooFar:
		c.stats.incRcvDrop(1)
	}

	c.controlMu.Lock()
	c.dataPktsSinceAck++
	c.dataPktsSinceLightAck++
	due := c.dataPktsSinceAck >= ackEveryNPackets
	c.controlMu.Unlock()
	if due {
		c.sendACK(now)
	}
}

// sampleArrival feeds the per-packet arrival gap and, for every 16th
// packet (SRT's probe-pair convention), the back-to-back probe-pair gap
// into the TimeWindow so sendACK's advertised rate/bandwidth fields and
// the congestion controller's OnACK feed see real measurements, per
// spec.md §6.
func (c *Connection) sampleArrival(p *pkt.Packet, now time.Time) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	if !c.lastArrival.IsZero() {
		gap := now.Sub(c.lastArrival)
		c.timeWindow.OnPacketArrival(gap)
		if c.probePending && uint32(p.SeqNo)%16 == 1 {
			c.timeWindow.OnProbePair(gap)
		}
	}
	c.probePending = uint32(p.SeqNo)%16 == 0
	c.lastArrival = now
}

func cryptoSlotFor(k pkt.KeySpec) crypto.KeySpec {
	if k == pkt.KeyOdd {
		return crypto.KeyOdd
	}
	return crypto.KeyEven
}

func (c *Connection) signalRecvData() {
	select {
	case c.recvDataCh <- struct{}{}:
	default:
	}
}

func (c *Connection) touchPeerAlive(now time.Time) {
	c.controlMu.Lock()
	c.lastRspTime = now
	c.expCount = 0
	c.controlMu.Unlock()
}

// ProcessControl dispatches one received control packet to its
// handler, per spec.md §4.7/§6.
func (c *Connection) ProcessControl(p *pkt.Packet, now time.Time) {
	c.touchPeerAlive(now)
	switch p.CtrlType {
	case pkt.CtrlAck:
		c.onACK(p, now)
	case pkt.CtrlAckAck:
		c.onACKACK(p, now)
	case pkt.CtrlLossReport:
		c.onNAK(p, now)
	case pkt.CtrlKeepalive:
		// lastRspTime already touched above; nothing else to do.
	case pkt.CtrlShutdown:
		c.MarkBroken()
	case pkt.CtrlDropReq:
		c.onDropReq(p)
	case pkt.CtrlExtension:
		c.onExtension(p, now)
	}
}

// onACK implements spec.md §4.7's "On ACK received": releases
// SndBuffer up to ack, removes acknowledged seqs from SndLossList, and
// feeds the congestion controller.
func (c *Connection) onACK(p *pkt.Packet, now time.Time) {
	words := pkt.UnpackWords(p.Payload)
	if len(words) < 1 {
		return
	}
	ackSeq := seq.SeqNo(words[0])

	c.sendMu.Lock()
	n := int(ackSeq.Diff(c.sndLastAck))
	if n > 0 {
		c.sndBuffer.AckData(n)
		c.sndLossList.Remove(ackSeq.Add(-1))
		c.sndLastAck = ackSeq
	}
	c.sendMu.Unlock()

	c.sendACKACK(p.AddInfo, now)

	if c.congestion != nil {
		rtt := time.Duration(c.rttMicros) * time.Microsecond
		var bw float64
		if len(words) >= 6 {
			bw = float64(words[5])
		}
		c.congestion.OnACK(rtt, bw)
	}
}

// onACKACK implements the RTT sampling half of spec.md §4.7: the
// sender measures round-trip time from the echoed ACK sequence.
func (c *Connection) onACKACK(p *pkt.Packet, now time.Time) {
	c.ackMu.Lock()
	rtt, ok := c.ackWindow.Sample(p.AddInfo, now)
	if ok {
		if c.rttMicros == 0 {
			c.rttMicros = rtt.Microseconds()
		} else {
			// EWMA with the classic 1/8, 1/4 weights SRT uses for
			// RTT/RTTVar.
			diff := rtt.Microseconds() - c.rttMicros
			if diff < 0 {
				diff = -diff
			}
			c.rttVarMicros += (diff - c.rttVarMicros) / 4
			c.rttMicros += (rtt.Microseconds() - c.rttMicros) / 8
		}
		c.stats.setRTTMicros(c.rttMicros)
	}
	c.ackMu.Unlock()
}

// onNAK implements spec.md §4.7's "On NAK received": inserts reported
// sequences into SndLossList so the next SndQueue pass retransmits
// them immediately.
func (c *Connection) onNAK(p *pkt.Packet, now time.Time) {
	words := pkt.UnpackWords(p.Payload)
	added := 0
	for i := 0; i < len(words); {
		w := words[i]
		if w&0x80000000 != 0 {
			lo := seq.SeqNo(w &^ 0x80000000)
			if i+1 >= len(words) {
				break
			}
			hi := seq.SeqNo(words[i+1])
			added += c.sndLossList.Insert(lo, hi)
			i += 2
		} else {
			added += c.sndLossList.Insert(seq.SeqNo(w), seq.SeqNo(w))
			i++
		}
	}
	if added > 0 && c.congestion != nil {
		c.congestion.OnLoss(added)
	}
}

// onDropReq implements spec.md §4.7's "On DropReq received (sender)":
// the peer asks to stop caring about [lo,hi].
func (c *Connection) onDropReq(p *pkt.Packet) {
	words := pkt.UnpackWords(p.Payload)
	if len(words) < 2 {
		return
	}
	lo, hi := seq.SeqNo(words[0]), seq.SeqNo(words[1])
	c.sendMu.Lock()
	c.sndLossList.Remove(hi)
	n := int(hi.Diff(lo)) + 1
	if n > 0 {
		c.sndBuffer.AckData(n)
	}
	c.sendMu.Unlock()
}

func (c *Connection) onExtension(p *pkt.Packet, now time.Time) {
	switch p.ExtType {
	case pkt.ExtKmReq:
		c.handleKMReq(p.Payload, now)
	case pkt.ExtKmRsp:
		c.handleKMRsp(p.AddInfo)
	}
}

// handleKMReq installs a peer-announced SEK (initial or a mid-session
// rotation) and replies with KMRSP so the peer learns immediately
// whether the shared secret was accepted, per spec.md §4.6/§6.
func (c *Connection) handleKMReq(body []byte, now time.Time) {
	if c.crypto == nil {
		return
	}
	var status byte
	km, err := crypto.ParseKMReq(body)
	if err != nil {
		status = 1
	} else if err := c.crypto.InstallFromKMReq(km); err != nil {
		status = 1
	}
	c.sendKMRsp(status, now)
}

// handleKMRsp records the peer's KM acceptance state, fed from the
// preceding sendKMReq's KMRSP acknowledgement.
func (c *Connection) handleKMRsp(status uint32) {
	if c.crypto == nil {
		return
	}
	if status == 0 {
		c.crypto.SetPeerState(crypto.KMSecured)
	} else {
		c.crypto.SetPeerState(crypto.KMBadSecret)
	}
}
