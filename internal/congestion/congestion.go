// Package congestion defines the pluggable congestion-control policy
// slot spec.md leaves as an external collaborator, plus one concrete
// default, LiveController, grounded on
// original_source/srtcore/csrtcc.cpp: slow-start until first loss,
// then a linear pktSndPeriod recompute from the measured arrival rate.
package congestion

import "time"

// Controller is the congestion-control policy interface a Connection
// drives from its ACK/NAK/loss event handlers.
type Controller interface {
	// OnACK is called when an ACK is received, with the current RTT
	// estimate and the receiver's advertised estimated bandwidth in
	// packets/sec.
	OnACK(rtt time.Duration, estimatedBandwidthPktSec float64)
	// OnLoss is called when a received NAK reports loss, with the
	// number of newly-lost sequences.
	OnLoss(newLossCount int)
	// SndPeriod returns the current inter-packet send interval: the
	// reciprocal of the congestion window's send rate.
	SndPeriod() time.Duration
	// CongestionWindow returns the current window size in packets.
	CongestionWindow() float64
}

// LiveController implements SRT's shipped live-streaming congestion
// control: an initial slow-start phase sending as fast as the
// application offers data, ending at the first loss event, after
// which pktSndPeriod tracks the measured arrival rate directly (no
// AIMD backoff — live mode favors latency over throughput fairness).
type LiveController struct {
	mss int

	slowStart bool
	sndPeriod time.Duration
	cwnd      float64

	maxBW float64 // packets/sec ceiling; 0 means unbounded (spec §9 Open Question)
}

// NewLiveController constructs a LiveController for the given MSS
// (bytes) and an optional maxBW ceiling in packets/sec (0 = unbounded,
// falling back to the measured send rate per spec.md §9's resolved
// Open Question on MaxBW=-1/InputBW=0 interplay).
func NewLiveController(mss int, maxBWPktSec float64) *LiveController {
	return &LiveController{
		mss:       mss,
		slowStart: true,
		sndPeriod: time.Microsecond, // effectively unthrottled during slow-start
		cwnd:      16,
		maxBW:     maxBWPktSec,
	}
}

func (c *LiveController) OnACK(rtt time.Duration, estimatedBandwidthPktSec float64) {
	if c.slowStart {
		return
	}
	rate := estimatedBandwidthPktSec
	if c.maxBW > 0 && rate > c.maxBW {
		rate = c.maxBW
	}
	if rate <= 0 {
		return
	}
	c.sndPeriod = time.Duration(float64(time.Second) / rate)
}

func (c *LiveController) OnLoss(newLossCount int) {
	if newLossCount <= 0 {
		return
	}
	if c.slowStart {
		c.slowStart = false
		// Seed pktSndPeriod with a fixed 1ms so the first
		// post-slow-start ACK has something sane to refine.
		c.sndPeriod = time.Millisecond
	}
}

func (c *LiveController) SndPeriod() time.Duration {
	return c.sndPeriod
}

func (c *LiveController) CongestionWindow() float64 {
	return c.cwnd
}
