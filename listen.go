package srtcore

import (
	"net"
	"time"

	"github.com/srt-go/srtcore/internal/channel"
	"github.com/srt-go/srtcore/internal/clock"
	"github.com/srt-go/srtcore/internal/congestion"
	"github.com/srt-go/srtcore/internal/conn"
	"github.com/srt-go/srtcore/internal/crypto"
	"github.com/srt-go/srtcore/internal/handshake"
	"github.com/srt-go/srtcore/internal/mux"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/seq"
	"github.com/srt-go/srtcore/internal/xlog"
)

// Listener accepts inbound SRT connections on one bound UDP endpoint,
// per spec.md §4.7's listener-side handshake and §4.8's Multiplexer.
type Listener struct {
	m       *mux.Multiplexer
	opts    Options
	cookies *handshake.CookieMinter
	clk     clock.Clock

	acceptCh chan *Conn
	closeCh  chan struct{}
}

// Listen binds laddr and returns a Listener ready to Accept inbound
// SRT connections.
func Listen(laddr string, opts Options) (*Listener, error) {
	clk := clock.NewSystem()
	secret := make([]byte, 16)
	if _, err := time.Now().MarshalBinary(); err != nil {
		return nil, New(KindSetup, "clock-unavailable", err)
	}
	copy(secret, []byte(time.Now().String()))

	l := &Listener{
		opts:     opts,
		cookies:  handshake.NewCookieMinter(secret),
		clk:      clk,
		acceptCh: make(chan *Conn, 64),
		closeCh:  make(chan struct{}),
	}

	m, err := mux.New(laddr, opts.mss(), clk, l.onHandshake)
	if err != nil {
		return nil, New(KindSetup, "bind-listen-socket", err)
	}
	l.m = m
	if opts.DSCP != 0 {
		_ = m.Channel().SetDSCP(opts.DSCP)
	}
	m.Start()
	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.m.LocalAddr() }

// Accept blocks until an inbound connection completes its handshake.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.closeCh:
		return nil, New(KindConnection, "listener-closed", nil)
	}
}

// Close stops the listener's multiplexer.
func (l *Listener) Close() error {
	close(l.closeCh)
	l.m.Stop()
	return nil
}

// onHandshake implements spec.md §4.7's listener-side steps: reply to
// Induction with a minted cookie; on Conclusion, validate the cookie,
// check for an idempotent duplicate, and otherwise mint a new
// Connection and deliver it to the accept queue.
func (l *Listener) onHandshake(dg *channel.Datagram, p *pkt.Packet) {
	if !p.IsControl || p.CtrlType != pkt.CtrlHandshake {
		return
	}
	m, err := handshake.Decode(p.Payload)
	if err != nil {
		return
	}

	local := l.m.LocalAddr()

	switch m.ReqType {
	case handshake.ReqInduction:
		l.replyInduction(dg, m, local)
	case handshake.ReqConclusion:
		l.handleConclusion(dg, m, local)
	}
}

func (l *Listener) replyInduction(dg *channel.Datagram, m *handshake.Message, local *net.UDPAddr) {
	cookie := l.cookies.Mint(dg.From, local, l.clk.Now())
	reply := &handshake.Message{
		Version:  5,
		ReqType:  handshake.ReqInduction,
		ISN:      m.ISN,
		MSS:      m.MSS,
		Cookie:   cookie,
		SocketID: l.m.Registry().AllocateID(),
	}
	l.send(dg.From, reply)
}

func (l *Listener) handleConclusion(dg *channel.Datagram, m *handshake.Message, local *net.UDPAddr) {
	if !l.cookies.Validate(m.Cookie, dg.From, local, l.clk.Now()) {
		l.send(dg.From, &handshake.Message{Version: 5, ReqType: handshake.ReqReject})
		return
	}

	if existing := l.m.Registry().LookupAccept(dg.From.String(), m.SocketID, uint32(m.ISN)); existing != nil {
		l.send(dg.From, l.conclusionReplyFor(existing, m, existing.KmStatus()))
		return
	}

	localID := l.m.Registry().AllocateID()
	isn := seq.SeqNo(uint32(time.Now().UnixNano()) & 0x7FFFFFFF)

	// The listener is the KM receiver: it installs the SEK the caller
	// carried inline in its Conclusion (m.Ext.KmReq) instead of
	// generating its own, so both sides share the same key, and
	// reports acceptance back via the reply's KmStatus (spec.md §4.7
	// step 3, §8 Scenario 6).
	var cryptoCtl *crypto.Control
	var kmStatus byte
	if l.opts.Passphrase != "" {
		cipher := crypto.CipherAESCTR
		if l.opts.UseGCM {
			cipher = crypto.CipherAESGCM
		}
		cryptoCtl, _ = crypto.NewControl([]byte(l.opts.Passphrase), l.opts.pbKeyLen(), cipher)
		if cryptoCtl != nil {
			cryptoCtl.SetRotation(l.opts.kmRefreshRate(), l.opts.kmPreAnnounce())
			km, err := crypto.ParseKMReq(m.Ext.KmReq)
			if err != nil {
				kmStatus = 1
			} else if err := cryptoCtl.InstallFromKMReq(km); err != nil {
				kmStatus = 1
			}
		}
	} else if m.Ext.Present && len(m.Ext.KmReq) > 0 {
		// Caller wants encryption but this listener has no passphrase
		// configured: the secret can never be shared.
		kmStatus = 1
	}

	latency := l.opts.latency()
	if m.Ext.Present && time.Duration(m.Ext.TSBPDDelay)*time.Millisecond > latency {
		latency = time.Duration(m.Ext.TSBPDDelay) * time.Millisecond
	}

	c := conn.New(conn.Config{
		LocalSocketID: localID,
		PeerSocketID:  m.SocketID,
		PeerAddr:      dg.From,
		ISN:           isn,
		PeerISN:       m.ISN,
		MSS:           int(m.MSS),
		FlightWindow:  l.opts.flightWindow(),
		RcvLatency:    latency,
		TSBPDEnabled:  l.opts.tsbpdEnabled(),
		TLPktDrop:     l.opts.tlPktDrop(),
		NAKReport:     l.opts.nakReport(),
		PeerStartTime: l.clk.Now(),
		Clock:         l.clk,
		Out:           l.m.Channel(),
		Crypto:        cryptoCtl,
		Congestion:    congestion.NewLiveController(int(m.MSS), l.opts.MaxBW),
	})

	l.m.Registry().Register(c, uint32(m.ISN))
	l.send(dg.From, l.conclusionReplyFor(c, m, kmStatus))

	select {
	case l.acceptCh <- &Conn{c: c}:
	default:
		xlog.For("listener").Warn().Msg("accept queue full, dropping new connection")
	}
}

func (l *Listener) conclusionReplyFor(c *conn.Connection, peerMsg *handshake.Message, kmStatus byte) *handshake.Message {
	return &handshake.Message{
		Version:  5,
		ReqType:  handshake.ReqConclusion,
		ISN:      seq.SeqNo(c.LocalID()), // placeholder correlation; real ISN carried via conn state
		MSS:      peerMsg.MSS,
		SocketID: c.LocalID(),
		Cookie:   peerMsg.Cookie,
		Ext: handshake.Extension{
			Present:    true,
			SRTVersion: 0x010502,
			Flags:      extensionFlags(l.opts),
			TSBPDDelay: uint16(l.opts.latency().Milliseconds()),
			KmStatus:   kmStatus,
		},
	}
}

func (l *Listener) send(addr *net.UDPAddr, m *handshake.Message) {
	body := handshake.Encode(m)
	p := &pkt.Packet{IsControl: true, CtrlType: pkt.CtrlHandshake, DestSockID: 0, Payload: body}
	_ = l.m.Channel().Send(pkt.Pack(p), addr)
}
