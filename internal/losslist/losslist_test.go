package losslist

import (
	"testing"

	"github.com/srt-go/srtcore/internal/seq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCoalescesAdjacent(t *testing.T) {
	var l List
	added := l.Insert(10, 12)
	assert.Equal(t, 3, added)
	added = l.Insert(13, 15)
	assert.Equal(t, 3, added)
	assert.Equal(t, 6, l.Length())

	assert.Equal(t, []uint32{10 | 0x80000000, 15}, l.GetLossArray(10))
}

func TestInsertDuplicateIsNoop(t *testing.T) {
	var l List
	l.Insert(5, 10)
	added := l.Insert(6, 8)
	assert.Equal(t, 0, added)
	assert.Equal(t, 6, l.Length())
}

func TestRemoveRetiresPrefix(t *testing.T) {
	var l List
	l.Insert(10, 20)
	l.Remove(15)
	assert.Equal(t, 5, l.Length())
	arr := l.GetLossArray(10)
	require.Len(t, arr, 2)
	assert.Equal(t, uint32(16)|0x80000000, arr[0])
	assert.Equal(t, uint32(20), arr[1])
}

func TestRemoveAllRetiresEverything(t *testing.T) {
	var l List
	l.Insert(10, 20)
	l.Remove(20)
	assert.Equal(t, 0, l.Length())
}

func TestPopFirstOrdersByArc(t *testing.T) {
	var l List
	l.Insert(20, 20)
	l.Insert(10, 10)
	first, ok := l.PopFirst()
	require.True(t, ok)
	assert.Equal(t, seq.SeqNo(10), first)
	second, ok := l.PopFirst()
	require.True(t, ok)
	assert.Equal(t, seq.SeqNo(20), second)
	_, ok = l.PopFirst()
	assert.False(t, ok)
}

func TestSingleSeqSerializesWithoutRangeFlag(t *testing.T) {
	var l List
	l.Insert(7, 7)
	assert.Equal(t, []uint32{7}, l.GetLossArray(10))
}
