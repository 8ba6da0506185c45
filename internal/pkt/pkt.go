// Package pkt implements PacketCodec: the 16-byte SRT header layout,
// shared between data and control packets, and the pack/unpack
// operations spec.md §4.1 calls for.
//
//	word0: [C=1b] [type/seq: 31b]     C=0 data seq; C=1 control type(15)+extype(16)
//	word1: [boundary:2][inorder:1][keyspec:2][rexmit:1][msgno:26]   (data)
//	       [additional info 32b]                                    (control)
//	word2: timestamp (µs, relative to peer origin)
//	word3: destination socket id
//
// All header words are big-endian on the wire; byte-order conversion
// happens exactly once, here, at the codec boundary.
package pkt

import (
	"encoding/binary"

	"github.com/srt-go/srtcore/internal/seq"
)

// HeaderLen is the fixed SRT packet header size in bytes.
const HeaderLen = 16

// ControlType enumerates the values carried in word0's 15-bit type
// field for control packets.
type ControlType uint16

const (
	CtrlHandshake          ControlType = 0x0000
	CtrlKeepalive          ControlType = 0x0001
	CtrlAck                ControlType = 0x0002
	CtrlLossReport         ControlType = 0x0003
	CtrlCongestionWarning  ControlType = 0x0004
	CtrlShutdown           ControlType = 0x0005
	CtrlAckAck             ControlType = 0x0006
	CtrlDropReq            ControlType = 0x0007
	CtrlPeerError          ControlType = 0x0008
	CtrlExtension          ControlType = 0x7FFF
)

// ExtSubtype enumerates word0's low 16 bits when ControlType is
// CtrlExtension.
type ExtSubtype uint16

const (
	ExtHsReq ExtSubtype = 1
	ExtHsRsp ExtSubtype = 2
	ExtKmReq ExtSubtype = 3
	ExtKmRsp ExtSubtype = 4
)

// Boundary marks a data packet's position within a multi-packet
// message: Solo packets carry both flags set.
type Boundary uint8

const (
	BoundaryMiddle Boundary = 0
	BoundaryLast   Boundary = 1
	BoundaryFirst  Boundary = 2
	BoundarySolo   Boundary = BoundaryFirst | BoundaryLast
)

// KeySpec identifies which SEK (Even/Odd) encrypted a data packet's
// payload, or that it carries no encryption.
type KeySpec uint8

const (
	KeyUnencrypted KeySpec = 0
	KeyEven        KeySpec = 1
	KeyOdd         KeySpec = 2
)

const controlFlag = 1 << 31

// Packet is the decoded representation of one SRT datagram, control or
// data, shared by both paths so a single Codec serves the whole
// connection.
type Packet struct {
	IsControl bool

	// Data packet fields (meaningless when IsControl).
	SeqNo    seq.SeqNo
	Boundary Boundary
	InOrder  bool
	KeySpec  KeySpec
	Rexmit   bool
	MsgNo    seq.MsgNo

	// Control packet fields (meaningless when !IsControl).
	CtrlType ControlType
	ExtType  ExtSubtype
	AddInfo  uint32

	Timestamp   uint32
	DestSockID  uint32
	Payload     []byte
}

// Clone returns a deep copy of p, safe to retain past p's buffer reuse.
func (p *Packet) Clone() *Packet {
	c := *p
	if p.Payload != nil {
		c.Payload = make([]byte, len(p.Payload))
		copy(c.Payload, p.Payload)
	}
	return &c
}

// Pack encodes p into a newly-allocated buffer: header followed by
// payload (opaque for data packets, a sequence of big-endian 32-bit
// words for control packets — callers pass that body pre-encoded via
// Payload).
func Pack(p *Packet) []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	PackInto(p, buf)
	return buf
}

// PackInto encodes p into buf, which must be at least HeaderLen+len(p.Payload).
func PackInto(p *Packet, buf []byte) {
	var word0 uint32
	if p.IsControl {
		word0 = controlFlag | (uint32(p.CtrlType&0x7FFF) << 16) | uint32(p.ExtType)
	} else {
		word0 = uint32(p.SeqNo) & 0x7FFFFFFF
	}
	binary.BigEndian.PutUint32(buf[0:4], word0)

	var word1 uint32
	if p.IsControl {
		word1 = p.AddInfo
	} else {
		var inOrder uint32
		if p.InOrder {
			inOrder = 1
		}
		var rexmit uint32
		if p.Rexmit {
			rexmit = 1
		}
		word1 = (uint32(p.Boundary&0x3) << 30) |
			(inOrder << 29) |
			(uint32(p.KeySpec&0x3) << 27) |
			(rexmit << 26) |
			(uint32(p.MsgNo) & 0x3FFFFFF)
	}
	binary.BigEndian.PutUint32(buf[4:8], word1)
	binary.BigEndian.PutUint32(buf[8:12], p.Timestamp)
	binary.BigEndian.PutUint32(buf[12:16], p.DestSockID)
	copy(buf[HeaderLen:], p.Payload)
}

// Unpack decodes a wire buffer into a Packet. The returned Payload
// aliases buf; callers that retain the Packet past buffer reuse must
// Clone it first.
func Unpack(buf []byte) (*Packet, error) {
	if len(buf) < HeaderLen {
		return nil, ErrShortHeader
	}
	word0 := binary.BigEndian.Uint32(buf[0:4])
	word1 := binary.BigEndian.Uint32(buf[4:8])

	p := &Packet{
		Timestamp:  binary.BigEndian.Uint32(buf[8:12]),
		DestSockID: binary.BigEndian.Uint32(buf[12:16]),
		Payload:    buf[HeaderLen:],
	}

	if word0&controlFlag != 0 {
		p.IsControl = true
		p.CtrlType = ControlType((word0 >> 16) & 0x7FFF)
		p.ExtType = ExtSubtype(word0 & 0xFFFF)
		p.AddInfo = word1
	} else {
		p.SeqNo = seq.SeqNo(word0 & 0x7FFFFFFF)
		p.Boundary = Boundary((word1 >> 30) & 0x3)
		p.InOrder = (word1>>29)&0x1 != 0
		p.KeySpec = KeySpec((word1 >> 27) & 0x3)
		p.Rexmit = (word1>>26)&0x1 != 0
		p.MsgNo = seq.MsgNo(word1 & 0x3FFFFFF)
	}
	return p, nil
}

// ErrShortHeader is returned by Unpack when the buffer is smaller than
// HeaderLen.
var ErrShortHeader = shortHeaderErr{}

type shortHeaderErr struct{}

func (shortHeaderErr) Error() string { return "pkt: buffer shorter than header" }

// PackWords encodes a control packet body as big-endian 32-bit words,
// the format spec.md §4.1 specifies for control payloads (ACK ranges,
// loss reports, KM structures).
func PackWords(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	return buf
}

// UnpackWords decodes a control packet body into 32-bit words.
func UnpackWords(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return words
}
