package conn

import (
	"time"

	"github.com/srt-go/srtcore/internal/crypto"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/seq"
	"github.com/srt-go/srtcore/internal/sndbuf"
)

// NextToSend implements the SndQueue worker's per-connection step from
// spec.md §4.7: retransmit from the loss list first, otherwise send
// the next pending unit. Returns ok=false when nothing is due to send
// right now.
func (c *Connection) NextToSend(now time.Time) (ok bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.State() != StateConnected || now.Before(c.targetTime) {
		return false
	}

	var s seq.SeqNo
	var rexmit bool
	if retr, has := c.sndLossList.PopFirst(); has {
		s = retr
		rexmit = true
	} else {
		s = c.sndCurrSeq
	}

	data, boundary, inOrder, msgNo, srcTime, res := c.sndBuffer.ReadData(s)
	switch res {
	case sndbuf.ReadDropped:
		c.stats.incSndDrop(1)
		c.advanceCurrSeq(s)
		return false
	case sndbuf.ReadNotFound:
		c.scheduleNext(now)
		return false
	}

	p := &pkt.Packet{
		SeqNo:      s,
		Boundary:   boundary,
		InOrder:    inOrder,
		MsgNo:      msgNo,
		Rexmit:     rexmit,
		Timestamp:  srcTime,
		DestSockID: c.peerID,
		Payload:    data,
	}
	c.sendDataPacket(p, now)
	if !rexmit {
		c.advanceCurrSeq(s)
	} else {
		c.stats.incRetrans(1)
	}
	c.scheduleNext(now)
	return true
}

func (c *Connection) advanceCurrSeq(s seq.SeqNo) {
	if c.sndCurrSeq == s {
		c.sndCurrSeq = s.Incr()
	}
}

func (c *Connection) sendDataPacket(p *pkt.Packet, now time.Time) {
	c.maybeRotateKey(now)

	payload := p.Payload
	if c.crypto != nil {
		if ct, err := c.crypto.Encrypt(uint32(p.SeqNo), payload); err == nil {
			payload = ct
			if c.crypto.ActiveKey() == crypto.KeyOdd {
				p.KeySpec = pkt.KeyOdd
			} else {
				p.KeySpec = pkt.KeyEven
			}
		}
	}
	out := *p
	out.Payload = payload
	buf := pkt.Pack(&out)
	if err := c.out.Send(buf, c.peerAddr); err == nil {
		c.stats.incSent(1)
		c.stats.addBytesSent(uint64(len(buf)))
		c.controlMu.Lock()
		c.lastSendTime = now
		c.controlMu.Unlock()
	}
}

// maybeRotateKey drives spec.md §4.6's key-rotation state machine: once
// ShouldRotate fires, a fresh SEK is generated into the inactive slot
// and announced to the peer via KMREQ while the active slot keeps
// encrypting; once ShouldSwitchover fires at the refresh boundary, the
// pre-announced key becomes active.
func (c *Connection) maybeRotateKey(now time.Time) {
	if c.crypto == nil {
		return
	}
	if c.crypto.ShouldRotate() {
		if err := c.crypto.GenerateSEK(c.crypto.InactiveKey()); err == nil {
			c.sendKMReq(now)
		}
	}
	if c.crypto.ShouldSwitchover() {
		c.crypto.Flip()
	}
}

// sendKMReq announces the crypto state's currently installed SEK(s) to
// the peer, once per mid-session rotation. A KMREQ lost in transit is
// not re-sent; handleKMRsp only records the peer's answer.
func (c *Connection) sendKMReq(now time.Time) {
	body, err := c.crypto.BuildKMReq()
	if err != nil {
		return
	}
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlExtension,
		ExtType:    pkt.ExtKmReq,
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
		Payload:    body,
	}
	if err := c.out.Send(pkt.Pack(p), c.peerAddr); err == nil {
		c.stats.incSent(1)
	}
}

// sendKMRsp acknowledges a received KMREQ, echoing whether this side's
// InstallFromKMReq succeeded so the peer can learn of a bad shared
// secret without a further round trip, per spec.md §8 Scenario 6.
func (c *Connection) sendKMRsp(status byte, now time.Time) {
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlExtension,
		ExtType:    pkt.ExtKmRsp,
		AddInfo:    uint32(status),
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
	}
	if err := c.out.Send(pkt.Pack(p), c.peerAddr); err == nil {
		c.stats.incSent(1)
	}
}

func (c *Connection) scheduleNext(now time.Time) {
	period := time.Microsecond
	if c.congestion != nil {
		period = c.congestion.SndPeriod()
		if period <= 0 {
			period = time.Microsecond
		}
	}
	c.targetTime = now.Add(period)
}

// sendDropReq emits a DropReq control packet asking the peer to stop
// caring about [lo,hi], per spec.md §4.5/§4.7's TSBPD-drop path.
func (c *Connection) sendDropReq(lo, hi seq.SeqNo) {
	body := pkt.PackWords([]uint32{uint32(lo), uint32(hi)})
	p := &pkt.Packet{
		IsControl:  true,
		CtrlType:   pkt.CtrlDropReq,
		Timestamp:  clockTimestamp(c),
		DestSockID: c.peerID,
		Payload:    body,
	}
	buf := pkt.Pack(p)
	if err := c.out.Send(buf, c.peerAddr); err == nil {
		c.stats.incSent(1)
	}
}

func clockTimestamp(c *Connection) uint32 {
	return uint32(c.clk.Micros() & 0xFFFFFFFF)
}
