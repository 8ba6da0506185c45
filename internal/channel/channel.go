// Package channel wraps one UDP socket as SRT's Channel collaborator:
// datagram send/recv plus MTU and DSCP controls. Grounded on the
// teacher's Server.Start/listen (net.ListenUDP + ReadFromUDP/
// WriteToUDP loop), generalized into a reusable type instead of being
// inlined into a server; DSCP handling follows kcp-go's
// SetDSCP/ipv4.NewConn(nc).SetTOS pattern.
package channel

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Datagram is one received UDP payload plus its source address.
type Datagram struct {
	Payload []byte
	From    *net.UDPAddr
}

// Channel is a bound UDP socket shared by every connection multiplexed
// on it.
type Channel struct {
	conn *net.UDPConn
	mtu  int
}

// New binds a UDP socket at laddr ("" for an ephemeral port on all
// interfaces). mtu bounds the largest datagram Recv will return
// unfragmented, default 1500 per spec.md §6.
func New(laddr string, mtu int) (*Channel, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if mtu <= 0 {
		mtu = 1500
	}
	return &Channel{conn: conn, mtu: mtu}, nil
}

// LocalAddr returns the bound local address.
func (c *Channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to addr.
func (c *Channel) Send(payload []byte, addr *net.UDPAddr) error {
	_, err := c.conn.WriteToUDP(payload, addr)
	return err
}

// Recv blocks for the next datagram, up to the channel's MTU.
func (c *Channel) Recv() (*Datagram, error) {
	buf := make([]byte, c.mtu)
	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return &Datagram{Payload: buf[:n], From: from}, nil
}

// Close releases the underlying socket.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// SetDSCP sets the 6-bit DSCP field in the IPv4 header, or the 8-bit
// traffic class in the IPv6 header, for outgoing datagrams, the same
// dual-stack fallback kcp-go's SetDSCP performs.
func (c *Channel) SetDSCP(dscp int) error {
	if err := ipv4.NewConn(c.conn).SetTOS(dscp << 2); err == nil {
		return nil
	}
	return ipv6.NewConn(c.conn).SetTrafficClass(dscp)
}

// SetReadBuffer sizes the kernel receive buffer for this socket.
func (c *Channel) SetReadBuffer(bytes int) error {
	return c.conn.SetReadBuffer(bytes)
}

// SetWriteBuffer sizes the kernel send buffer for this socket.
func (c *Channel) SetWriteBuffer(bytes int) error {
	return c.conn.SetWriteBuffer(bytes)
}

// MTU returns the configured maximum datagram size.
func (c *Channel) MTU() int {
	return c.mtu
}
