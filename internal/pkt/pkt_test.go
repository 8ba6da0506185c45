package pkt

import (
	"testing"

	"github.com/srt-go/srtcore/internal/seq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackDataRoundTrip(t *testing.T) {
	p := &Packet{
		SeqNo:      seq.SeqNo(12345),
		Boundary:   BoundarySolo,
		InOrder:    true,
		KeySpec:    KeyEven,
		Rexmit:     true,
		MsgNo:      seq.MsgNo(42),
		Timestamp:  0xDEADBEEF,
		DestSockID: 0xCAFEBABE,
		Payload:    []byte("hello srt"),
	}
	buf := Pack(p)
	require.Len(t, buf, HeaderLen+len(p.Payload))

	got, err := Unpack(buf)
	require.NoError(t, err)
	assert.False(t, got.IsControl)
	assert.Equal(t, p.SeqNo, got.SeqNo)
	assert.Equal(t, p.Boundary, got.Boundary)
	assert.True(t, got.InOrder)
	assert.Equal(t, p.KeySpec, got.KeySpec)
	assert.True(t, got.Rexmit)
	assert.Equal(t, p.MsgNo, got.MsgNo)
	assert.Equal(t, p.Timestamp, got.Timestamp)
	assert.Equal(t, p.DestSockID, got.DestSockID)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestPackUnpackControlRoundTrip(t *testing.T) {
	p := &Packet{
		IsControl:  true,
		CtrlType:   CtrlAck,
		ExtType:    0,
		AddInfo:    7,
		Timestamp:  100,
		DestSockID: 99,
		Payload:    PackWords([]uint32{1, 2, 3}),
	}
	buf := Pack(p)
	got, err := Unpack(buf)
	require.NoError(t, err)
	assert.True(t, got.IsControl)
	assert.Equal(t, CtrlAck, got.CtrlType)
	assert.Equal(t, uint32(7), got.AddInfo)
	assert.Equal(t, []uint32{1, 2, 3}, UnpackWords(got.Payload))
}

func TestUnpackShortHeader(t *testing.T) {
	_, err := Unpack(make([]byte, 4))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestControlFlagDisambiguation(t *testing.T) {
	data := Pack(&Packet{SeqNo: 1})
	ctrl := Pack(&Packet{IsControl: true, CtrlType: CtrlHandshake})
	assert.Equal(t, byte(0), data[0]&0x80)
	assert.Equal(t, byte(0x80), ctrl[0]&0x80)
}

func TestClone(t *testing.T) {
	p := &Packet{Payload: []byte{1, 2, 3}}
	c := p.Clone()
	c.Payload[0] = 9
	assert.Equal(t, byte(1), p.Payload[0])
}
