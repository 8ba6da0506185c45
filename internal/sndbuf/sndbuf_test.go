package sndbuf

import (
	"testing"
	"time"

	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBufferSpansMultipleUnits(t *testing.T) {
	b := New(16, 4, 100)
	first, msgNo, ok := b.AddBuffer([]byte("0123456789"), 0, true, 1000)
	require.True(t, ok)
	assert.Equal(t, uint32(100), uint32(first))

	data, boundary, inOrder, gotMsg, srcTime, res := b.ReadData(first)
	assert.Equal(t, ReadOK, res)
	assert.Equal(t, []byte("0123"), data)
	assert.Equal(t, pkt.BoundaryFirst, boundary)
	assert.True(t, inOrder)
	assert.Equal(t, msgNo, gotMsg)
	assert.Equal(t, uint32(1000), srcTime)

	_, boundary3, _, _, _, res3 := b.ReadData(first.Add(2))
	assert.Equal(t, ReadOK, res3)
	assert.Equal(t, pkt.BoundaryLast, boundary3)
}

func TestAckDataAdvancesBase(t *testing.T) {
	b := New(16, 4, 0)
	first, _, _ := b.AddBuffer([]byte("01234567"), 0, true, 0)
	assert.Equal(t, 2, b.CurrBufSize())
	b.AckData(1)
	assert.Equal(t, 1, b.CurrBufSize())
	_, _, _, _, _, res := b.ReadData(first)
	assert.Equal(t, ReadNotFound, res)
}

func TestReadDataExpired(t *testing.T) {
	b := New(16, 4, 0)
	first, _, _ := b.AddBuffer([]byte("ab"), time.Nanosecond, true, 0)
	time.Sleep(time.Millisecond)
	_, _, _, _, _, res := b.ReadData(first)
	assert.Equal(t, ReadDropped, res)
}

func TestAddBufferRejectsWhenFull(t *testing.T) {
	b := New(2, 4, 0)
	_, _, ok := b.AddBuffer([]byte("01234567"), 0, true, 0)
	require.True(t, ok)
	_, _, ok = b.AddBuffer([]byte("x"), 0, true, 0)
	assert.False(t, ok)
}
