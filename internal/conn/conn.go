// Package conn implements Connection, the per-socket SRT state
// machine: handshake completion, send scheduling, receive dispatch,
// ACK/NAK/keepalive/EXP timers, and the data path through SndBuffer/
// RcvBuffer/loss lists/CryptoControl. Grounded on
// PeernetOfficial-core/udt's udtSocketSend/udtSocketRecv event-driven
// shape for the control flow, and the teacher's Session struct
// (one RWMutex guarding one big state struct, a second leaf lock for
// a secondary queue) for Go lock granularity — generalized here into
// three mutexes (control, send, recv) matching spec.md §5's lock
// order, plus ackMu for the RTT and arrival-rate fields, with the leaf
// structures (SndBuffer, loss lists, AckWindow)
// already self-locking.
package conn

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/srt-go/srtcore/internal/ackwin"
	"github.com/srt-go/srtcore/internal/clock"
	"github.com/srt-go/srtcore/internal/congestion"
	"github.com/srt-go/srtcore/internal/crypto"
	"github.com/srt-go/srtcore/internal/losslist"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/rcvbuf"
	"github.com/srt-go/srtcore/internal/sndbuf"
	"github.com/srt-go/srtcore/internal/seq"
	"github.com/srt-go/srtcore/internal/xlog"
)

// Sender is the minimal channel surface Connection needs to emit
// datagrams, satisfied by *internal/channel.Channel.
type Sender interface {
	Send(payload []byte, addr *net.UDPAddr) error
}

// Config bundles the parameters needed to construct a Connection,
// populated by the handshake path (caller or listener) once ISNs and
// negotiated options are known.
type Config struct {
	LocalSocketID uint32
	PeerSocketID  uint32
	PeerAddr      *net.UDPAddr
	ISN           seq.SeqNo
	PeerISN       seq.SeqNo
	MSS           int
	FlightWindow  int
	PayloadSize   int
	RcvLatency    time.Duration
	TSBPDEnabled  bool
	TLPktDrop     bool
	NAKReport     bool
	PeerStartTime time.Time
	Clock         clock.Clock
	Out           Sender
	Crypto        *crypto.Control // nil when unencrypted
	Congestion    congestion.Controller
}

const (
	ackInterval       = 10 * time.Millisecond
	ackEveryNPackets  = 64
	lightAckEveryN    = 16
	keepaliveInterval = time.Second
	minExpInterval    = 500 * time.Millisecond
	expCountBroken    = 16
	expBrokenDeadline = 5 * time.Second
	minNakInterval    = 20 * time.Millisecond
)

// Connection is one SRT socket's full state machine.
type Connection struct {
	localID  uint32
	peerID   uint32
	peerAddr *net.UDPAddr
	isn      seq.SeqNo
	peerISN  seq.SeqNo
	mss      int
	payloadSize int

	clk   clock.Clock
	out   Sender
	log   zerolog.Logger

	crypto     *crypto.Control
	congestion congestion.Controller

	tsbpd     bool
	tlPktDrop bool
	nakReport bool

	// --- control lock: state machine + timer bookkeeping ---
	controlMu sync.Mutex
	state     State
	lastRspTime   time.Time
	expCount      int
	firstExpTime  time.Time
	lastSendTime  time.Time
	lastAckSentAt time.Time
	lastNakSentAt time.Time
	dataPktsSinceAck int
	dataPktsSinceLightAck int
	nextAckSeq    uint32

	// --- send lock: application-send serialization + send-side state ---
	sendMu       sync.Mutex
	sndBuffer    *sndbuf.Buffer
	sndLossList  *losslist.List
	sndCurrSeq   seq.SeqNo
	sndLastAck   seq.SeqNo
	flightWindow int
	targetTime   time.Time
	sendBlockCh  chan struct{}

	// --- recv lock: application-recv serialization + recv-side state ---
	recvMu      sync.Mutex
	rcvBuffer   *rcvbuf.Buffer
	rcvLossList *losslist.List
	rcvCurrSeq  seq.SeqNo
	rcvLastAck  seq.SeqNo
	recvDataCh  chan struct{}

	// --- ackLock: protects fields read by both ACK handler and sender ---
	ackMu      sync.Mutex
	ackWindow  *ackwin.AckWindow
	timeWindow *ackwin.TimeWindow
	rttMicros  int64
	rttVarMicros int64
	lastArrival   time.Time
	probePending  bool

	stats Statistics

	closeCh chan struct{}
	closeOnce sync.Once
}

// New constructs a Connected Connection from negotiated handshake
// parameters. Listener and caller paths both call this once the
// Conclusion exchange completes.
func New(cfg Config) *Connection {
	payloadSize := cfg.PayloadSize
	if payloadSize <= 0 {
		payloadSize = cfg.MSS - pkt.HeaderLen
	}
	flight := cfg.FlightWindow
	if flight <= 0 {
		flight = 8192
	}

	c := &Connection{
		localID:      cfg.LocalSocketID,
		peerID:       cfg.PeerSocketID,
		peerAddr:     cfg.PeerAddr,
		isn:          cfg.ISN,
		peerISN:      cfg.PeerISN,
		mss:          cfg.MSS,
		payloadSize:  payloadSize,
		clk:          cfg.Clock,
		out:          cfg.Out,
		log:          xlog.For("conn"),
		crypto:       cfg.Crypto,
		congestion:   cfg.Congestion,
		tsbpd:        cfg.TSBPDEnabled,
		tlPktDrop:    cfg.TLPktDrop,
		nakReport:    cfg.NAKReport,
		state:        StateConnected,
		sndCurrSeq:   cfg.ISN,
		sndLastAck:   cfg.ISN,
		rcvCurrSeq:   cfg.PeerISN,
		rcvLastAck:   cfg.PeerISN,
		sndLossList:  &losslist.List{},
		rcvLossList:  &losslist.List{},
		ackWindow:    ackwin.NewAckWindow(0),
		timeWindow:   ackwin.NewTimeWindow(0),
		sendBlockCh:  make(chan struct{}, 1),
		recvDataCh:   make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		flightWindow: flight,
	}
	c.sndBuffer = sndbuf.New(flight, payloadSize, cfg.ISN)
	c.rcvBuffer = rcvbuf.New(rcvbuf.Config{
		Capacity:     flight,
		StartSeq:     cfg.PeerISN,
		Clock:        cfg.Clock,
		PeerStart:    cfg.PeerStartTime,
		Latency:      cfg.RcvLatency,
		TSBPDEnabled: cfg.TSBPDEnabled,
		TLPktDrop:    cfg.TLPktDrop,
		OnDrop:       c.onTSBPDDrop,
	})
	now := cfg.Clock.Now()
	c.lastRspTime = now
	c.lastSendTime = now
	c.lastAckSentAt = now
	c.lastNakSentAt = now
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.controlMu.Lock()
	defer c.controlMu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.controlMu.Lock()
	c.state = s
	c.controlMu.Unlock()
}

// LocalID returns the connection's local socket id, the registry key.
func (c *Connection) LocalID() uint32 { return c.localID }

// PeerID returns the peer's socket id, as reported in its handshake.
func (c *Connection) PeerID() uint32 { return c.peerID }

// PeerAddr returns the remote address this connection sends to.
func (c *Connection) PeerAddr() *net.UDPAddr { return c.peerAddr }

// Stats returns a snapshot of the connection's running counters.
func (c *Connection) Stats() Snapshot { return c.stats.Snapshot() }

// SendMessage enqueues data for transmission, splitting across units
// as SndBuffer requires. Returns false when the connection is not
// Connected or the send ring has no room.
func (c *Connection) SendMessage(data []byte, ttl time.Duration, inOrder bool) (ok bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.State() != StateConnected {
		return false
	}
	srcTime := clock.WrapTimestamp(c.clk.Micros())
	_, _, ok = c.sndBuffer.AddBuffer(data, ttl, inOrder, srcTime)
	return ok
}

// ReceiveMessage drains up to len(dst) playable bytes in message mode.
func (c *Connection) ReceiveMessage(dst []byte) int {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	out := c.rcvBuffer.ReadBuffer(len(dst), true)
	n := copy(dst, out)
	return n
}

// Close transitions the connection to Closing. A Closing connection
// sends nothing more: data still in the send buffer is not drained and
// there is no linger wait. The owning Multiplexer's GC sweep marks it
// Closed after its grace period.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	c.setState(StateClosing)
}

// MarkBroken transitions the connection to Broken: peer Shutdown,
// repeated EXP expiry, or a fatal local error.
func (c *Connection) MarkBroken() {
	c.setState(StateBroken)
}

// MarkClosed transitions the connection to its terminal Closed state,
// called by the Multiplexer's GC sweep after the grace period spec.md
// §4.8 describes.
func (c *Connection) MarkClosed() {
	c.setState(StateClosed)
}

// CryptoBroken reports whether this connection's encryption is
// unusable because either side failed to install the shared secret,
// per spec.md §8 Scenario 6: sends and receives must then be refused
// with a Security error rather than silently failing to decrypt.
func (c *Connection) CryptoBroken() bool {
	if c.crypto == nil {
		return false
	}
	return c.crypto.State() == crypto.KMBadSecret || c.crypto.PeerState() == crypto.KMBadSecret
}

// KmStatus reports this side's local KM state as the wire byte carried
// in the handshake Extension's KmStatus field: 0 when secured or
// unencrypted, 1 when the shared secret was rejected.
func (c *Connection) KmStatus() byte {
	if c.crypto != nil && c.crypto.State() == crypto.KMBadSecret {
		return 1
	}
	return 0
}

func (c *Connection) onTSBPDDrop(lo, hi seq.SeqNo) {
	n := uint64(hi.Diff(lo)) + 1
	c.stats.incRcvDrop(n)
	c.sendDropReq(lo, hi)
}
