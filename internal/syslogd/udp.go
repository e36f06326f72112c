package syslogd

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
)

// UDPServer listens for syslog datagrams on one device's port.
type UDPServer struct {
	addr    string
	conn    net.PacketConn
	ch      chan model.Datagram
	maxSize int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewUDPServer creates a UDP listener for the given address.
func NewUDPServer(addr string, conf ...Config) *UDPServer {
	queueSize := DefaultQueueSize
	maxSize := DefaultMaxPayloadSize
	if len(conf) > 0 {
		if conf[0].QueueSize > 0 {
			queueSize = conf[0].QueueSize
		}
		if conf[0].MaxPayloadSize > 0 {
			maxSize = conf[0].MaxPayloadSize
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPServer{
		addr:    addr,
		ch:      make(chan model.Datagram, queueSize),
		maxSize: maxSize,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the socket and begins receiving. Bind failure is returned to
// the caller; it is fatal only for the owning device.
func (s *UDPServer) Start() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return err
	}
	s.conn = conn

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

func (s *UDPServer) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.maxSize)
	for {
		n, raddr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("syslogd: udp read error on %s: %v", s.addr, err)
			continue
		}

		// Even an empty payload is forwarded; the parser degrades it to a
		// raw-only record so it still counts.
		dg := model.Datagram{
			Addr:       hostOnly(raddr.String()),
			Raw:        StripPriority(decodeText(buf[:n])),
			ReceivedAt: time.Now().UTC(),
		}
		select {
		case s.ch <- dg:
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop closes the socket. Payloads in flight after Stop are not delivered.
func (s *UDPServer) Stop() {
	s.cancel()
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	close(s.ch)
}

// Datagrams returns the channel of received payloads.
func (s *UDPServer) Datagrams() <-chan model.Datagram { return s.ch }

// Name identifies the transport.
func (s *UDPServer) Name() string { return "udp" }

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *UDPServer) Addr() string {
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return s.addr
}
