package mux

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/srt-go/srtcore/internal/channel"
	"github.com/srt-go/srtcore/internal/clock"
	"github.com/srt-go/srtcore/internal/conn"
	"github.com/srt-go/srtcore/internal/pkt"
	"github.com/srt-go/srtcore/internal/xlog"
)

const (
	sndQueuePoll = time.Millisecond
	timerTick    = 10 * time.Millisecond
	gcTick       = time.Second
	gcGrace      = time.Second
)

// HandshakeHandler processes a handshake-phase packet (destSockID==0)
// not yet associated with a registered connection — the listener path
// spec.md §4.7 describes.
type HandshakeHandler func(dg *channel.Datagram, p *pkt.Packet)

// Multiplexer owns one Channel and drives its SndQueue worker, RcvQueue
// worker, timer thread, and the shared GC sweep, per spec.md §4.8/§5.
type Multiplexer struct {
	ch       *channel.Channel
	registry *Registry
	clk      clock.Clock
	log      zerolog.Logger

	onHandshake HandshakeHandler

	brokenSince sync.Map // localID uint32 -> time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Multiplexer bound to laddr.
func New(laddr string, mtu int, clk clock.Clock, onHandshake HandshakeHandler) (*Multiplexer, error) {
	ch, err := channel.New(laddr, mtu)
	if err != nil {
		return nil, err
	}
	return Wrap(ch, clk, onHandshake), nil
}

// Wrap builds a Multiplexer around an already-bound Channel, used by
// Dial where the handshake exchange and the data connection must
// share the same local UDP port.
func Wrap(ch *channel.Channel, clk clock.Clock, onHandshake HandshakeHandler) *Multiplexer {
	return &Multiplexer{
		ch:          ch,
		registry:    NewRegistry(),
		clk:         clk,
		log:         xlog.For("mux"),
		onHandshake: onHandshake,
		stopCh:      make(chan struct{}),
	}
}

// Registry returns the connection registry this multiplexer owns.
func (m *Multiplexer) Registry() *Registry { return m.registry }

// Channel returns the underlying Channel, for handshake replies that
// predate a registered Connection.
func (m *Multiplexer) Channel() *channel.Channel { return m.ch }

// LocalAddr returns the bound local address.
func (m *Multiplexer) LocalAddr() *net.UDPAddr { return m.ch.LocalAddr() }

// Start launches three goroutines for the long-running loops spec.md §5
// describes: RcvQueue worker, SndQueue worker (which also runs the
// timer ticks), and GC thread. GC is
// conceptually process-global per spec.md, but is run per-multiplexer
// here since each Multiplexer owns an independent registry.
func (m *Multiplexer) Start() {
	m.wg.Add(3)
	go m.rcvLoop()
	go m.sndLoop()
	go m.gcLoop()
}

// Stop signals all loops to exit and closes the channel.
func (m *Multiplexer) Stop() {
	close(m.stopCh)
	m.ch.Close()
	m.wg.Wait()
}

func (m *Multiplexer) rcvLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}
		dg, err := m.ch.Recv()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				m.log.Debug().Err(err).Msg("channel recv error")
				continue
			}
		}
		p, err := pkt.Unpack(dg.Payload)
		if err != nil {
			continue
		}
		now := m.clk.Now()
		if p.DestSockID == 0 {
			if m.onHandshake != nil {
				m.onHandshake(dg, p)
			}
			continue
		}
		c := m.registry.Lookup(p.DestSockID)
		if c == nil {
			continue
		}
		if p.IsControl {
			c.ProcessControl(p, now)
		} else {
			c.ProcessData(p.Clone(), now)
		}
	}
}

func (m *Multiplexer) sndLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sndQueuePoll)
	defer ticker.Stop()
	timerTicker := time.NewTicker(timerTick)
	defer timerTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			for _, c := range m.registry.Connections() {
				c.NextToSend(now)
			}
		case now := <-timerTicker.C:
			for _, c := range m.registry.Connections() {
				c.Tick(now)
			}
		}
	}
}

func (m *Multiplexer) gcLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(gcTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep implements spec.md §4.8's two-phase GC: a connection observed
// Broken is remembered with its first-seen time; once gcGrace has
// elapsed it is promoted to Closed and removed from the registry, so
// any in-flight API call in that window still observes Broken rather
// than a vanished id.
func (m *Multiplexer) sweep(now time.Time) {
	for _, c := range m.registry.Connections() {
		switch c.State() {
		case conn.StateBroken, conn.StateClosing:
			since, ok := m.brokenSince.Load(c.LocalID())
			if !ok {
				m.brokenSince.Store(c.LocalID(), now)
				continue
			}
			if now.Sub(since.(time.Time)) >= gcGrace {
				c.MarkClosed()
				m.registry.Remove(c.LocalID())
				m.brokenSince.Delete(c.LocalID())
			}
		case conn.StateClosed:
			m.registry.Remove(c.LocalID())
			m.brokenSince.Delete(c.LocalID())
		}
	}
}
