// Package handshake implements SRT's connection establishment: the
// Induction/Conclusion exchange (HSv5), cookie minting/validation, and
// the HSv4-compatible post-handshake Extension messages, per spec.md
// §4.7. Grounded on the teacher's multi-step open-connection exchange
// (ID_OPEN_CONNECTION_REQUEST/REPLY, ID_CONNECTION_REQUEST/ACCEPTED),
// generalized from RakNet's cookie-less handshake to SRT's
// cookie-validated one; cookie construction follows
// original_source/srtcore/core.h's documented inputs.
package handshake

import (
	"crypto/sha1"
	"encoding/binary"
	"net"
	"time"

	"github.com/srt-go/srtcore/internal/seq"
)

// ReqType distinguishes the handshake phase/role. The exact numeric
// encoding is module-local — both sides only need to agree on it — so
// these are small unsigned constants (Conclusion=0, Induction=1,
// Waveahand=2, Reject=1000) rather than upstream's signed wire values.
type ReqType uint32

const (
	ReqInduction  ReqType = 1
	ReqConclusion ReqType = 0
	ReqWaveahand  ReqType = 2
	ReqReject     ReqType = 1000
)

// Message is a decoded SRT handshake control-packet body (spec.md §6):
// version, request type, ISN, MSS, flight window, socket id, cookie,
// and the peer's reported address.
type Message struct {
	Version        uint32
	ReqType        ReqType
	ISN            seq.SeqNo
	MSS            uint32
	FlightFlagSize uint32
	SocketID       uint32
	Cookie         uint32
	PeerIP         [16]byte

	Ext Extension
}

// Extension carries HSv5's SRT-specific negotiation fields, either
// inline in the Conclusion handshake (HSv5) or in a later Extension
// control packet (HSv4 compatibility), per spec.md §4.7. KmReq carries
// the caller's key-material request (crypto.BuildKMReq's wire format)
// inline in the Conclusion, per spec.md §4.7 step 3's "optionally
// KmReq"; KmStatus is the listener's echoed crypto.KMState, letting the
// caller learn of a bad shared secret without a further round trip.
type Extension struct {
	Present    bool
	SRTVersion uint32
	Flags      uint32
	TSBPDDelay uint16
	KmReq      []byte
	KmStatus   byte
}

// Extension flag bits (spec.md §4.7's "TSBPD-snd/rcv, TLPktDrop,
// NAKReport, REXMIT-flag" negotiation flags).
const (
	FlagTSBPDSnd  uint32 = 1 << 0
	FlagTSBPDRcv  uint32 = 1 << 1
	FlagTLPktDrop uint32 = 1 << 2
	FlagNAKReport uint32 = 1 << 3
	FlagRexmit    uint32 = 1 << 4
)

// Encode packs a Message into the control-packet body layout spec.md
// §6 specifies: version, type, ISN, MSS, flightFlagSize, reqType,
// socketId, synCookie, peerIPAddress, followed by an optional HSv5
// extension block.
func Encode(m *Message) []byte {
	buf := make([]byte, 48)
	binary.BigEndian.PutUint32(buf[0:4], m.Version)
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.ReqType))
	binary.BigEndian.PutUint32(buf[8:12], uint32(m.ISN))
	binary.BigEndian.PutUint32(buf[12:16], m.MSS)
	binary.BigEndian.PutUint32(buf[16:20], m.FlightFlagSize)
	binary.BigEndian.PutUint32(buf[20:24], uint32(m.ReqType))
	binary.BigEndian.PutUint32(buf[24:28], m.SocketID)
	binary.BigEndian.PutUint32(buf[28:32], m.Cookie)
	copy(buf[32:48], m.PeerIP[:])

	if m.Ext.Present {
		ext := make([]byte, 12)
		binary.BigEndian.PutUint16(ext[0:2], uint16(1)) // extType = HsReq/HsRsp per pkt.ExtHsReq
		binary.BigEndian.PutUint16(ext[2:4], 3)          // extSize in 32-bit words
		binary.BigEndian.PutUint32(ext[4:8], m.Ext.SRTVersion)
		binary.BigEndian.PutUint32(ext[8:12], m.Ext.Flags)
		tail := make([]byte, 4)
		binary.BigEndian.PutUint16(tail[2:4], m.Ext.TSBPDDelay)
		buf = append(buf, ext...)
		buf = append(buf, tail...)

		km := make([]byte, 5+len(m.Ext.KmReq))
		km[0] = m.Ext.KmStatus
		binary.BigEndian.PutUint32(km[1:5], uint32(len(m.Ext.KmReq)))
		copy(km[5:], m.Ext.KmReq)
		buf = append(buf, km...)
	}
	return buf
}

// Decode reverses Encode.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < 48 {
		return nil, errShort
	}
	m := &Message{
		Version:        binary.BigEndian.Uint32(buf[0:4]),
		ReqType:        ReqType(binary.BigEndian.Uint32(buf[4:8])),
		ISN:            seq.SeqNo(binary.BigEndian.Uint32(buf[8:12])),
		MSS:            binary.BigEndian.Uint32(buf[12:16]),
		FlightFlagSize: binary.BigEndian.Uint32(buf[16:20]),
		SocketID:       binary.BigEndian.Uint32(buf[24:28]),
		Cookie:         binary.BigEndian.Uint32(buf[28:32]),
	}
	copy(m.PeerIP[:], buf[32:48])

	if len(buf) >= 48+16 {
		ext := buf[48:]
		m.Ext = Extension{
			Present:    true,
			SRTVersion: binary.BigEndian.Uint32(ext[4:8]),
			Flags:      binary.BigEndian.Uint32(ext[8:12]),
			TSBPDDelay: binary.BigEndian.Uint16(ext[14:16]),
		}
		rest := buf[48+16:]
		if len(rest) >= 5 {
			m.Ext.KmStatus = rest[0]
			kmLen := binary.BigEndian.Uint32(rest[1:5])
			if uint32(len(rest)-5) >= kmLen {
				m.Ext.KmReq = append([]byte(nil), rest[5:5+kmLen]...)
			}
		}
	}
	return m, nil
}

type shortErr struct{}

func (shortErr) Error() string { return "handshake: message too short" }

var errShort = shortErr{}

// epochWindow is the cookie rotation period spec.md §9 resolves to
// exactly "current or previous epoch" of this duration.
const epochWindow = 60 * time.Second

// CookieMinter derives listener handshake cookies from a per-process
// secret, rotated once per epochWindow so cookies age out while still
// tolerating clock granularity across the boundary.
type CookieMinter struct {
	secret []byte
}

// NewCookieMinter constructs a minter keyed by the given secret.
// The secret only needs to be unpredictable to off-path attackers for
// the lifetime of the process; it is not persisted across restarts.
func NewCookieMinter(secret []byte) *CookieMinter {
	return &CookieMinter{secret: secret}
}

func epochOf(t time.Time) int64 {
	return t.Unix() / int64(epochWindow.Seconds())
}

// Mint computes the cookie for peerAddr as observed by localAddr at
// time t, per spec.md §4.7: hash(peerAddr, localAddr, localTime).
func (c *CookieMinter) Mint(peerAddr, localAddr *net.UDPAddr, t time.Time) uint32 {
	return c.cookieForEpoch(peerAddr, localAddr, epochOf(t))
}

func (c *CookieMinter) cookieForEpoch(peerAddr, localAddr *net.UDPAddr, epoch int64) uint32 {
	h := sha1.New()
	h.Write(c.secret)
	h.Write([]byte(peerAddr.String()))
	h.Write([]byte(localAddr.String()))
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], uint64(epoch))
	h.Write(eb[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// Validate accepts a cookie minted in the current or immediately
// previous epoch, per spec.md §9's resolved Open Question and §4.7's
// "1-minute rotation + previous-epoch acceptance for clock skew".
func (c *CookieMinter) Validate(cookie uint32, peerAddr, localAddr *net.UDPAddr, t time.Time) bool {
	now := epochOf(t)
	return cookie == c.cookieForEpoch(peerAddr, localAddr, now) ||
		cookie == c.cookieForEpoch(peerAddr, localAddr, now-1)
}
