package srtcore

import (
	"context"
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
)

const handshakeRetry = 250 * time.Millisecond

// Dial opens an SRT connection to raddr ("host:port"), performing the
// HSv5 caller-side Induction/Conclusion exchange spec.md §4.7
// describes. The attempt fails with a KindConnection Timeout error
// after opts.ConnTimeO (default 3000ms) if the peer never completes
// the handshake; use DialContext to supply a different deadline or
// none at all.
func Dial(raddr string, opts Options) (*Conn, error) {
	ctx, cancel := withTimeout(context.Background(), opts.connTimeout())
	defer cancel()
	return DialContext(ctx, raddr, opts)
}

// DialContext is Dial with cancellation/timeout via ctx.
func DialContext(ctx context.Context, raddr string, opts Options) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, New(KindSetup, "resolve-addr", err)
	}

	ch, err := channel.New("", opts.mss())
	if err != nil {
		return nil, New(KindSystemResources, "bind-local-socket", err)
	}
	if opts.DSCP != 0 {
		_ = ch.SetDSCP(opts.DSCP)
	}

	clk := clock.NewSystem()
	localID := uint32(time.Now().UnixNano()) &^ (1 << 31)
	isn := seq.SeqNo(uint32(time.Now().UnixNano()) & 0x7FFFFFFF)

	induction := &handshake.Message{
		Version:        5,
		ReqType:        handshake.ReqInduction,
		ISN:            isn,
		MSS:            uint32(opts.mss()),
		FlightFlagSize: uint32(opts.flightWindow()),
		SocketID:       localID,
	}

	cookie, _, err := exchangeInduction(ctx, ch, addr, induction)
	if err != nil {
		return nil, err
	}

	// The caller is the KM sender: it generates the SEK and carries it
	// to the listener inline in the Conclusion handshake (spec.md
	// §4.7 step 3's "optionally KmReq"), so both sides end up sharing
	// the same key instead of each independently generating its own.
	var cryptoCtl *crypto.Control
	var kmReqBody []byte
	if opts.Passphrase != "" {
		cipher := crypto.CipherAESCTR
		if opts.UseGCM {
			cipher = crypto.CipherAESGCM
		}
		cryptoCtl, err = crypto.NewControl([]byte(opts.Passphrase), opts.pbKeyLen(), cipher)
		if err != nil {
			return nil, New(KindSecurity, "crypto-init", err)
		}
		cryptoCtl.SetRotation(opts.kmRefreshRate(), opts.kmPreAnnounce())
		if err := cryptoCtl.GenerateSEK(crypto.KeyEven); err != nil {
			return nil, New(KindSecurity, "sek-generation", err)
		}
		if kmReqBody, err = cryptoCtl.BuildKMReq(); err != nil {
			return nil, New(KindSecurity, "km-build", err)
		}
	}

	conclusion := &handshake.Message{
		Version:        5,
		ReqType:        handshake.ReqConclusion,
		ISN:            isn,
		MSS:            induction.MSS,
		FlightFlagSize: induction.FlightFlagSize,
		SocketID:       localID,
		Cookie:         cookie,
		Ext: handshake.Extension{
			Present:    true,
			SRTVersion: 0x010502,
			Flags:      extensionFlags(opts),
			TSBPDDelay: uint16(opts.latency().Milliseconds()),
			KmReq:      kmReqBody,
		},
	}

	rm, err := exchangeConclusion(ctx, ch, addr, conclusion)
	if err != nil {
		return nil, err
	}
	peerISN, peerStart := rm.ISN, time.Now()
	if cryptoCtl != nil {
		if rm.Ext.Present && rm.Ext.KmStatus == 0 {
			cryptoCtl.SetPeerState(crypto.KMSecured)
		} else {
			cryptoCtl.SetPeerState(crypto.KMBadSecret)
		}
	}

	congestionCtl := congestion.NewLiveController(opts.mss(), opts.MaxBW)
	c := conn.New(conn.Config{
		LocalSocketID: localID,
		PeerSocketID:  rm.SocketID,
		PeerAddr:      addr,
		ISN:           isn,
		PeerISN:       peerISN,
		MSS:           opts.mss(),
		FlightWindow:  opts.flightWindow(),
		RcvLatency:    opts.latency(),
		TSBPDEnabled:  opts.tsbpdEnabled(),
		TLPktDrop:     opts.tlPktDrop(),
		NAKReport:     opts.nakReport(),
		PeerStartTime: peerStart,
		Clock:         clk,
		Out:           ch,
		Crypto:        cryptoCtl,
		Congestion:    congestionCtl,
	})

	m := mux.Wrap(ch, clk, nil)
	m.Registry().Register(c, uint32(peerISN))
	m.Start()

	return &Conn{c: c}, nil
}

func extensionFlags(opts Options) uint32 {
	var f uint32
	if opts.tsbpdEnabled() {
		f |= handshake.FlagTSBPDSnd | handshake.FlagTSBPDRcv
	}
	if opts.tlPktDrop() {
		f |= handshake.FlagTLPktDrop
	}
	if opts.nakReport() {
		f |= handshake.FlagNAKReport
	}
	f |= handshake.FlagRexmit
	return f
}

// exchangeInduction sends the Induction handshake and retries until
// ctx is done, returning the listener's cookie and the socket id field
// of its Induction reply. The listener's connection reports its own
// socket id later, in the Conclusion reply.
func exchangeInduction(ctx context.Context, ch *channel.Channel, addr *net.UDPAddr, m *handshake.Message) (cookie uint32, peerID uint32, err error) {
	body := handshake.Encode(m)
	p := &pkt.Packet{IsControl: true, CtrlType: pkt.CtrlHandshake, DestSockID: 0, Payload: body}
	for {
		if err := ch.Send(pkt.Pack(p), addr); err != nil {
			return 0, 0, New(KindConnection, "send-induction", err)
		}
		select {
		case <-ctx.Done():
			return 0, 0, New(KindConnection, "handshake-timeout", ctx.Err())
		case <-time.After(handshakeRetry):
			continue
		case resp := <-recvOnce(ctx, ch):
			if resp == nil {
				continue
			}
			rp, err := pkt.Unpack(resp.Payload)
			if err != nil || !rp.IsControl || rp.CtrlType != pkt.CtrlHandshake {
				continue
			}
			rm, err := handshake.Decode(rp.Payload)
			if err != nil {
				continue
			}
			return rm.Cookie, rm.SocketID, nil
		}
	}
}

func exchangeConclusion(ctx context.Context, ch *channel.Channel, addr *net.UDPAddr, m *handshake.Message) (*handshake.Message, error) {
	body := handshake.Encode(m)
	p := &pkt.Packet{IsControl: true, CtrlType: pkt.CtrlHandshake, DestSockID: 0, Payload: body}
	for {
		if err := ch.Send(pkt.Pack(p), addr); err != nil {
			return nil, New(KindConnection, "send-conclusion", err)
		}
		select {
		case <-ctx.Done():
			return nil, New(KindConnection, "handshake-timeout", ctx.Err())
		case <-time.After(handshakeRetry):
			continue
		case resp := <-recvOnce(ctx, ch):
			if resp == nil {
				continue
			}
			rp, err := pkt.Unpack(resp.Payload)
			if err != nil || !rp.IsControl || rp.CtrlType != pkt.CtrlHandshake {
				continue
			}
			rm, err := handshake.Decode(rp.Payload)
			if err != nil || rm.ReqType == handshake.ReqReject {
				continue
			}
			return rm, nil
		}
	}
}

func recvOnce(ctx context.Context, ch *channel.Channel) <-chan *channel.Datagram {
	out := make(chan *channel.Datagram, 1)
	go func() {
		dg, err := ch.Recv()
		if err != nil {
			out <- nil
			return
		}
		select {
		case out <- dg:
		case <-ctx.Done():
		}
	}()
	return out
}

