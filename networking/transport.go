package networking

import (
	"log"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Transport is the datagram socket shared by senders, ACK readers and receivers.
// Every WriteTo call must emit exactly one datagram so concurrent writers never interleave.
type Transport interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// Listen binds UDP socket on address and marks outbound datagrams with DSCP class if nonzero
func Listen(address string, dscp int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Err: err}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err}
	}

	if dscp > 0 {
		// DSCP occupies the upper six bits of the TOS byte. Not applied on IPv6 sockets.
		if err := ipv4.NewPacketConn(conn).SetTOS(dscp << 2); err != nil {
			log.Println("Could not set DSCP on", conn.LocalAddr().String(), "-", err)
		}
	}

	return conn, nil
}

// ResolveRemote resolves receiver address for sending
func ResolveRemote(address string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Err: err}
	}
	return addr, nil
}
