package syslogd

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gatewatch/gatewatch/internal/model"
)

// TCPServer listens for newline-delimited syslog records over TCP, the
// framing FortiGate uses in reliable mode.
type TCPServer struct {
	addr     string
	listener net.Listener
	ch       chan model.Datagram
	maxSize  int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Open connections, tracked so Stop can close them instead of waiting
	// for idle peers to hang up.
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewTCPServer creates a TCP listener for the given address.
func NewTCPServer(addr string, conf ...Config) *TCPServer {
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
	return &TCPServer{
		addr:    addr,
		ch:      make(chan model.Datagram, queueSize),
		maxSize: maxSize,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start begins accepting TCP connections.
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}
			s.track(conn)
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *TCPServer) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := hostOnly(conn.RemoteAddr().String())

	scanner := bufio.NewScanner(conn)
	buf := make([]byte, s.maxSize)
	scanner.Buffer(buf, s.maxSize)

	for scanner.Scan() {
		dg := model.Datagram{
			Addr:       remote,
			Raw:        StripPriority(decodeText(scanner.Bytes())),
			ReceivedAt: time.Now().UTC(),
		}
		select {
		case s.ch <- dg:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if errors.Is(err, bufio.ErrTooLong) {
			log.Printf("syslogd: dropped connection %s due to line exceeding max size (%d bytes)", conn.RemoteAddr(), s.maxSize)
			return
		}
		log.Printf("syslogd: scanner error from %s: %v", conn.RemoteAddr(), err)
	}
}

// Stop shuts down the listener and closes any open connections. Scanners
// blocked on an idle peer unblock with a read error, so Stop returns
// without waiting on remote hangups.
func (s *TCPServer) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.ch)
}

// Datagrams returns the channel of received payloads.
func (s *TCPServer) Datagrams() <-chan model.Datagram { return s.ch }

// Name identifies the transport.
func (s *TCPServer) Name() string { return "tcp" }

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *TCPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
