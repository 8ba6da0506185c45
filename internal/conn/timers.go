package conn

import (
	"time"

	"github.com/srt-go/srtcore/internal/pkt"
)

// Tick runs one pass of the periodic actions spec.md §4.7 lists as
// driven by "a single timer thread per multiplexer, checking deadlines
// each tick": ACK, NAK, keepalive, and EXP. The owning Multiplexer
// calls this for every live connection on each timer tick.
func (c *Connection) Tick(now time.Time) {
	if c.State() != StateConnected {
		return
	}

	c.controlMu.Lock()
	sinceAck := now.Sub(c.lastAckSentAt)
	sinceSend := now.Sub(c.lastSendTime)
	lastRsp := c.lastRspTime
	expCount := c.expCount
	firstExp := c.firstExpTime
	c.controlMu.Unlock()

	if sinceAck >= ackInterval {
		c.sendACK(now)
	}

	if c.nakReport {
		c.maybeSendPeriodicNAK(now)
	}

	if sinceSend >= keepaliveInterval {
		c.sendKeepalive(now)
	}

	c.tickExpiry(now, lastRsp, expCount, firstExp)

	c.rcvBuffer.Tick(now)
}

func (c *Connection) tickExpiry(now, lastRsp time.Time, expCount int, firstExp time.Time) {
	expInterval := minExpInterval
	if r := time.Duration(c.rttMicros) * time.Microsecond; r > 0 {
		if v := r + 4*time.Duration(c.rttVarMicros)*time.Microsecond; v > expInterval {
			expInterval = v
		}
	}
	if now.Sub(lastRsp) < expInterval {
		return
	}

	c.controlMu.Lock()
	if c.expCount == 0 {
		c.firstExpTime = now
	}
	c.expCount++
	ec := c.expCount
	fe := c.firstExpTime
	c.controlMu.Unlock()

	if ec > expCountBroken && now.Sub(fe) > expBrokenDeadline {
		c.log.Warn().Uint32("socket_id", c.localID).Msg("connection expired, marking broken")
		c.MarkBroken()
	}
}

// sendACK emits a full ACK carrying the receive-side flow control and
// timing fields spec.md §6 specifies.
func (c *Connection) sendACK(now time.Time) {
	c.recvMu.Lock()
	ackSeq := c.rcvCurrSeq.Incr()
	c.recvMu.Unlock()

	c.controlMu.Lock()
	c.nextAckSeq++
	ackID := c.nextAckSeq
	c.lastAckSentAt = now
	c.dataPktsSinceAck = 0
	c.controlMu.Unlock()

	c.ackMu.Lock()
	c.ackWindow.Record(ackID, now)
	c.ackMu.Unlock()

	bufferLeft := uint32(c.flightWindow - c.sndBuffer.CurrBufSize())
	rate := uint32(c.ackWindowArrivalRate())
	bw := uint32(c.ackWindowBandwidth())

	body := pkt.PackWords([]uint32{
		uint32(ackSeq),
		uint32(c.rttMicros),
		uint32(c.rttVarMicros),
		bufferLeft,
		rate,
		bw,
	})
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlAck,
		AddInfo:    ackID,
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
		Payload:    body,
	}
	if err := c.out.Send(pkt.Pack(p), c.peerAddr); err == nil {
		c.stats.incSent(1)
	}
}

func (c *Connection) ackWindowArrivalRate() float64 {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.timeWindow.PacketArrivalRate()
}

func (c *Connection) ackWindowBandwidth() float64 {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.timeWindow.EstimatedBandwidth()
}

// sendACKACK is sent by the receiver immediately upon processing an
// ACK, echoing its ackID so the sender can sample RTT.
func (c *Connection) sendACKACK(ackID uint32, now time.Time) {
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlAckAck,
		AddInfo:    ackID,
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
	}
	if err := c.out.Send(pkt.Pack(p), c.peerAddr); err == nil {
		c.stats.incSent(1)
	}
}

// maybeSendPeriodicNAK gates sendPeriodicNAK on spec.md §4.7's
// nakInterval = max(minNakInterval, rtt+4·rttVar), rather than firing
// it on every multiplexer tick.
func (c *Connection) maybeSendPeriodicNAK(now time.Time) {
	interval := minNakInterval
	if r := time.Duration(c.rttMicros) * time.Microsecond; r > 0 {
		if v := r + 4*time.Duration(c.rttVarMicros)*time.Microsecond; v > interval {
			interval = v
		}
	}

	c.controlMu.Lock()
	due := now.Sub(c.lastNakSentAt) >= interval
	if due {
		c.lastNakSentAt = now
	}
	c.controlMu.Unlock()

	if due {
		c.sendPeriodicNAK(now)
	}
}

// sendPeriodicNAK sends the current receive loss list as a NAK; it is
// the only path on which this side reports losses to the peer.
func (c *Connection) sendPeriodicNAK(now time.Time) {
	c.recvMu.Lock()
	words := c.rcvLossList.GetLossArray(64)
	c.recvMu.Unlock()
	if len(words) == 0 {
		return
	}
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlLossReport,
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
		Payload:    pkt.PackWords(words),
	}
	if err := c.out.Send(pkt.Pack(p), c.peerAddr); err == nil {
		c.stats.incSent(1)
	}
}

func (c *Connection) sendKeepalive(now time.Time) {
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlKeepalive,
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
	}
	if err := c.out.Send(pkt.Pack(p), c.peerAddr); err == nil {
		c.stats.incSent(1)
		c.controlMu.Lock()
		c.lastSendTime = now
		c.controlMu.Unlock()
	}
}
