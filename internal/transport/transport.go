// Package transport owns the single bound UDP socket the engine listens on
// (spec §4.B). Every client multiplexes through this one socket; each
// inbound datagram is handed to the Handler with the slot from its header
// and its UDP source address, which this package does not check.
package transport

import (
	"context"
	"log/slog"
	"net"

	"bken/server/internal/wire"
)

// maxDatagramSize comfortably covers the largest legal packet: header +
// identity block + a worst-case string field, with room to spare.
const maxDatagramSize = 2048

// Handler processes one inbound datagram. from is the UDP source address,
// used by the identity layer to resolve (or establish) a session.
type Handler func(op wire.Op, slot uint32, r *wire.Reader, from *net.UDPAddr)

// Server wraps the bound socket and dispatches inbound datagrams to a
// single Handler.
type Server struct {
	conn    *net.UDPConn
	handler Handler
}

// Listen binds a UDP socket at addr (e.g. ":7777").
func Listen(addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	slog.Info("transport: listening", "addr", conn.LocalAddr().String())
	return &Server{conn: conn}, nil
}

// SetHandler installs the datagram handler. Must be called before Serve.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// LocalAddr returns the bound socket's address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or the socket errors.
// Malformed packets (failing at least the common header) are logged and
// dropped rather than terminating the loop — one bad client must never
// take down the relay for everyone else.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			slog.Error("transport: read failed", "err", err)
			return err
		}
		if s.handler == nil {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		r := wire.NewReader(payload)
		op, slot, err := r.Header()
		if err != nil {
			slog.Debug("transport: dropped malformed packet", "from", from, "err", err)
			continue
		}
		s.handler(op, slot, r, from)
	}
}

// Send writes a single datagram to addr.
func (s *Server) Send(addr *net.UDPAddr, payload []byte) error {
	_, err := s.conn.WriteToUDP(payload, addr)
	return err
}

// Close releases the socket.
func (s *Server) Close() error {
	return s.conn.Close()
}
