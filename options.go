package srtcore

import "time"

// Options configures a Dial or Listen call. The zero value is usable:
// it yields an unencrypted, TSBPD-enabled live-mode connection with
// SRT's common defaults, matching spec.md §6's configurable-knobs
// table. cmd/srtcat is the only place that should ever populate this
// from flags — core code never imports the CLI layer, per
// SPEC_FULL.md §2.3.
type Options struct {
	// Passphrase enables encryption when non-empty (10-79 bytes).
	Passphrase string
	// PBKeyLen is the SEK/KEK length in bytes: 16, 24, or 32. Defaults
	// to 16 (AES-128) when zero.
	PBKeyLen int
	// UseGCM selects AES-GCM instead of the default AES-CTR.
	UseGCM bool

	// Latency is the receiver's TSBPD delay budget. Defaults to
	// 120ms, SRT's common live-streaming default.
	Latency time.Duration
	// TSBPDEnabled turns on time-based playout. Defaults to true.
	TSBPDEnabled *bool
	// TLPktDrop allows TSBPD to skip unrecoverably late packets.
	// Defaults to true.
	TLPktDrop *bool
	// NAKReport enables periodic loss reporting: the receive loss list
	// is resent as a NAK every nakInterval. A detected gap is only
	// recorded, not reported at once, so with NAKReport off no NAK is
	// sent at all. Defaults to true.
	NAKReport *bool

	// MSS is the maximum segment size including IP+UDP+SRT headers.
	// Defaults to 1500.
	MSS int
	// FlightWindowSize bounds the send/receive ring capacity in
	// packets. Defaults to 8192.
	FlightWindowSize int
	// MaxBW caps the congestion controller's send rate in
	// packets/sec; 0 means unbounded (falls back to the measured send
	// rate, spec.md §9's resolved Open Question).
	MaxBW float64

	// DSCP, when non-zero, is applied to the underlying socket.
	DSCP int

	// ConnTimeO bounds how long Dial waits for the handshake to
	// complete before failing with a Timeout error. Defaults to
	// 3000ms. DialContext ignores this field; it honors the caller's
	// ctx directly.
	ConnTimeO time.Duration

	// KmRefreshRate is the number of packets between SEK regenerations
	// (spec.md §4.6). Defaults to 2^24; 0 means never rotate.
	KmRefreshRate *uint64
	// KmPreAnnounce is how many packets before switchover the new SEK
	// is announced (spec.md §4.6). Defaults to 2^12.
	KmPreAnnounce *uint64
}

func (o Options) mss() int {
	if o.MSS > 0 {
		return o.MSS
	}
	return 1500
}

func (o Options) flightWindow() int {
	if o.FlightWindowSize > 0 {
		return o.FlightWindowSize
	}
	return 8192
}

func (o Options) latency() time.Duration {
	if o.Latency > 0 {
		return o.Latency
	}
	return 120 * time.Millisecond
}

func (o Options) pbKeyLen() int {
	if o.PBKeyLen > 0 {
		return o.PBKeyLen
	}
	return 16
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (o Options) tsbpdEnabled() bool { return boolOr(o.TSBPDEnabled, true) }
func (o Options) tlPktDrop() bool    { return boolOr(o.TLPktDrop, true) }
func (o Options) nakReport() bool    { return boolOr(o.NAKReport, true) }

func (o Options) connTimeout() time.Duration {
	if o.ConnTimeO > 0 {
		return o.ConnTimeO
	}
	return 3000 * time.Millisecond
}

func (o Options) kmRefreshRate() uint64 {
	if o.KmRefreshRate != nil {
		return *o.KmRefreshRate
	}
	return 1 << 24
}

func (o Options) kmPreAnnounce() uint64 {
	if o.KmPreAnnounce != nil {
		return *o.KmPreAnnounce
	}
	return 1 << 12
}
