// Package srtcore implements SRT (Secure Reliable Transport): a
// connection-oriented, reliable, encrypted transport over UDP with
// time-stamped packet delivery, tuned for live media. The public
// surface mirrors net.Conn/net.Listener, following kcp-go's
// Dial/Listen/UDPSession shape — the nearest analog in the example
// corpus to "a net.Conn-shaped reliable-UDP API" — layered over the
// internal/conn state machine and internal/mux multiplexer.
package srtcore

import (
	"context"
	"net"
	"time"

	"github.com/srt-go/srtcore/internal/conn"
)

// MessageInfo is the sequence/message-number/timestamp triple a higher
// layer (e.g. a bonding/group implementation) can use to correlate
// messages, per spec.md §9's resolved Open Question on group/bonding
// hooks. SendMessage and ReceiveMessage do not return it, and nothing
// in this package fills one in.
type MessageInfo struct {
	Seq       uint32
	MsgNo     uint32
	Timestamp uint32
}

// Conn is one SRT connection. It implements net.Conn for stream-style
// use, plus SendMessage (explicit TTL and ordering flag) and
// ReceiveMessage; neither exposes sequence or timestamp metadata.
type Conn struct {
	c *conn.Connection

	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*Conn)(nil)

// Read implements net.Conn by draining one playable message's worth of
// bytes from the receive buffer, blocking (subject to any read
// deadline) until data is ready or the connection breaks.
func (s *Conn) Read(b []byte) (int, error) {
	if s.c.CryptoBroken() {
		return 0, New(KindSecurity, "bad-secret", nil)
	}
	for {
		n := s.c.ReceiveMessage(b)
		if n > 0 {
			return n, nil
		}
		if s.c.State() == conn.StateBroken || s.c.State() == conn.StateClosed {
			return 0, New(KindConnection, "broken", nil)
		}
		if !s.waitReadable() {
			return 0, New(KindConnection, "timeout", nil)
		}
	}
}

func (s *Conn) waitReadable() bool {
	timeout := time.NewTimer(10 * time.Millisecond)
	defer timeout.Stop()
	if !s.readDeadline.IsZero() {
		remaining := time.Until(s.readDeadline)
		if remaining <= 0 {
			return false
		}
		if remaining < 10*time.Millisecond {
			timeout.Reset(remaining)
		}
	}
	<-timeout.C
	return true
}

// Write implements net.Conn by enqueueing b as one SRT message.
func (s *Conn) Write(b []byte) (int, error) {
	if s.c.CryptoBroken() {
		return 0, New(KindSecurity, "bad-secret", nil)
	}
	if !s.c.SendMessage(b, 0, true) {
		return 0, New(KindNoBuf, "send-buf-full", nil)
	}
	return len(b), nil
}

// SendMessage enqueues data as one message with an explicit TTL and
// ordering flag. It returns only an error: KindSecurity after a
// rejected shared secret, KindNoBuf when the message cannot be
// enqueued. The sequence and message numbers assigned are not reported.
func (s *Conn) SendMessage(data []byte, ttl time.Duration, inOrder bool) error {
	if s.c.CryptoBroken() {
		return New(KindSecurity, "bad-secret", nil)
	}
	if !s.c.SendMessage(data, ttl, inOrder) {
		return New(KindNoBuf, "send-buf-full", nil)
	}
	return nil
}

// ReceiveMessage drains one message's worth of bytes into dst.
func (s *Conn) ReceiveMessage(dst []byte) (int, error) {
	if s.c.CryptoBroken() {
		return 0, New(KindSecurity, "bad-secret", nil)
	}
	n := s.c.ReceiveMessage(dst)
	if n == 0 && (s.c.State() == conn.StateBroken || s.c.State() == conn.StateClosed) {
		return 0, New(KindConnection, "broken", nil)
	}
	return n, nil
}

// Close moves the connection to Closing, after which it sends nothing
// more: the send buffer is not drained and there is no linger wait.
// The Multiplexer's GC sweep later reclaims the socket id.
func (s *Conn) Close() error {
	s.c.Close()
	return nil
}

// LocalAddr is unset for SRT connections multiplexed on a shared
// socket whose address is owned by the Listener/Multiplexer, not the
// individual Conn; callers needing it should use the Listener's
// Addr().
func (s *Conn) LocalAddr() net.Addr { return nil }

// RemoteAddr returns the peer's UDP address.
func (s *Conn) RemoteAddr() net.Addr { return s.c.PeerAddr() }

// SetDeadline sets both read and write deadlines.
func (s *Conn) SetDeadline(t time.Time) error {
	s.readDeadline = t
	s.writeDeadline = t
	return nil
}

// SetReadDeadline sets the read deadline.
func (s *Conn) SetReadDeadline(t time.Time) error {
	s.readDeadline = t
	return nil
}

// SetWriteDeadline sets the write deadline.
func (s *Conn) SetWriteDeadline(t time.Time) error {
	s.writeDeadline = t
	return nil
}

// Stats returns a snapshot of this connection's running counters.
func (s *Conn) Stats() conn.Snapshot { return s.c.Stats() }

// context helper shared by Dial/DialContext.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
