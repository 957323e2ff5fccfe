package simulator

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/link"
)

// QUICServer exposes a virtual device as a QUIC bridge
type QUICServer struct {
	device   *Device
	listener *quic.Listener
	logger   logger.Logger

	// Active connection, one at a time like a real peripheral
	conn   *quic.Conn
	connMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewQUICServer listens on address ("host:port", port 0 picks a free one).
// A nil tlsConfig generates a self-signed certificate.
func NewQUICServer(dev *Device, address string, tlsConfig *tls.Config, log logger.Logger) (*QUICServer, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if tlsConfig == nil {
		var err error
		tlsConfig, err = link.NewBridgeTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", address, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	listener, err := quic.Listen(udpConn, tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &QUICServer{
		device:   dev,
		listener: listener,
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	log.Info("Simulator: QUIC bridge listening on %s", listener.Addr())
	return s, nil
}

// Addr returns the listening address
func (s *QUICServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops the server and drops the active connection
func (s *QUICServer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	err := s.listener.Close()

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.CloseWithError(0, "server closed")
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return err
}

// DropConnection closes the active connection, as if the device went away
func (s *QUICServer) DropConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.CloseWithError(0, "device dropped")
		s.conn = nil
	}
}

func (s *QUICServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn("Simulator: Accept failed: %v", err)
			continue
		}

		if s.device.refuseDial() {
			conn.CloseWithError(1, "connection refused")
			continue
		}

		// A new central replaces the old one
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.CloseWithError(0, "new connection")
		}
		s.conn = conn
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve handles one bridge stream
func (s *QUICServer) serve(conn *quic.Conn) {
	defer s.wg.Done()

	stream, err := conn.AcceptStream(s.ctx)
	if err != nil {
		return
	}
	defer stream.Close()

	s.device.mu.Lock()
	s.device.reassembler.Reset()
	s.device.mu.Unlock()

	for {
		m, err := link.ReadBridgeMessage(stream)
		if err != nil {
			s.logger.Debug("Simulator: Bridge stream ended: %v", err)
			return
		}

		switch m.Type {
		case link.MsgDiscover:
			cfg := s.device.Config()
			status, service := link.BridgeOK, link.ServiceUUID
			if cfg.ServiceMissing {
				status, service = link.BridgeNotFound, ""
			}
			if err := link.WriteBridgeMessage(stream, link.BridgeMessage{
				Type:    link.MsgDiscoverResult,
				Payload: link.EncodeBridgeDiscoverResult(status, cfg.MTU, service),
			}); err != nil {
				return
			}

		case link.MsgWrite:
			seq, mode, data, err := link.ParseBridgeWrite(m.Payload)
			if err != nil {
				s.logger.Warn("Simulator: %v", err)
				continue
			}

			notes, ok, drop := s.device.Handle(data, mode)
			if drop {
				conn.CloseWithError(0, "device dropped")
				return
			}

			if mode == link.WriteWithResponse {
				status := link.BridgeOK
				if !ok {
					status = link.BridgeFailed
				}
				p := binary.LittleEndian.AppendUint16(nil, seq)
				if err := link.WriteBridgeMessage(stream, link.BridgeMessage{Type: link.MsgWriteResult, Payload: append(p, status)}); err != nil {
					return
				}
			}
			for _, n := range notes {
				if err := link.WriteBridgeMessage(stream, link.BridgeMessage{Type: link.MsgNotify, Payload: n}); err != nil {
					return
				}
			}

		default:
			s.logger.Debug("Simulator: Ignoring %s", m.Type)
		}
	}
}
