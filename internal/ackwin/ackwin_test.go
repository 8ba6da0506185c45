package ackwin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAckWindowSamplesRTT(t *testing.T) {
	w := NewAckWindow(4)
	t0 := time.Now()
	w.Record(1, t0)
	rtt, ok := w.Sample(1, t0.Add(50*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, rtt)
}

func TestAckWindowUnknownSeq(t *testing.T) {
	w := NewAckWindow(4)
	_, ok := w.Sample(99, time.Now())
	assert.False(t, ok)
}

func TestAckWindowEvictsOldest(t *testing.T) {
	w := NewAckWindow(2)
	t0 := time.Now()
	w.Record(1, t0)
	w.Record(2, t0)
	w.Record(3, t0) // evicts seq 1
	_, ok := w.Sample(1, t0)
	assert.False(t, ok)
	_, ok = w.Sample(3, t0)
	assert.True(t, ok)
}

func TestTimeWindowPacketArrivalRate(t *testing.T) {
	w := NewTimeWindow(8)
	for i := 0; i < 5; i++ {
		w.OnPacketArrival(10 * time.Millisecond)
	}
	rate := w.PacketArrivalRate()
	assert.InDelta(t, 100.0, rate, 1.0)
}

func TestTimeWindowEmpty(t *testing.T) {
	w := NewTimeWindow(8)
	assert.Equal(t, 0.0, w.PacketArrivalRate())
	assert.Equal(t, 0.0, w.EstimatedBandwidth())
}
