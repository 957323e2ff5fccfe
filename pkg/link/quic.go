package link

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"avaneesh/ipixel-go/pkg/internal/logger"
)

// BridgeProto is the ALPN protocol of the QUIC bridge
const BridgeProto = "ipixel-quic"

// BridgeMessageType identifies one message on the bridge stream
type BridgeMessageType uint8

const (
	MsgDiscover       BridgeMessageType = 0x01 // host -> bridge, empty
	MsgDiscoverResult BridgeMessageType = 0x02 // [status:1][mtu:2 LE][service uuid]
	MsgWrite          BridgeMessageType = 0x03 // [seq:2 LE][mode:1][data]
	MsgWriteResult    BridgeMessageType = 0x04 // [seq:2 LE][status:1]
	MsgNotify         BridgeMessageType = 0x05 // [data]
)

// Bridge result status bytes
const (
	BridgeOK       byte = 0x00
	BridgeNotFound byte = 0x01
	BridgeFailed   byte = 0x02
)

// bridgeHeaderSize is type(1) + length(2)
const bridgeHeaderSize = 3

var (
	ErrBridgeMessage = errors.New("malformed bridge message")
)

// String returns string representation of BridgeMessageType
func (t BridgeMessageType) String() string {
	switch t {
	case MsgDiscover:
		return "Discover"
	case MsgDiscoverResult:
		return "DiscoverResult"
	case MsgWrite:
		return "Write"
	case MsgWriteResult:
		return "WriteResult"
	case MsgNotify:
		return "Notify"
	default:
		return fmt.Sprintf("BridgeMessageType(0x%02X)", uint8(t))
	}
}

// BridgeMessage is one length prefixed message: [type:1][len:2 LE][payload]
type BridgeMessage struct {
	Type    BridgeMessageType
	Payload []byte
}

// WriteBridgeMessage writes m to w in a single call
func WriteBridgeMessage(w io.Writer, m BridgeMessage) error {
	if len(m.Payload) > 0xFFFF {
		return fmt.Errorf("%w: payload %d bytes", ErrBridgeMessage, len(m.Payload))
	}
	buf := make([]byte, 0, bridgeHeaderSize+len(m.Payload))
	buf = append(buf, byte(m.Type))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Payload)))
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadBridgeMessage reads one message from r
func ReadBridgeMessage(r io.Reader) (BridgeMessage, error) {
	var hdr [bridgeHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return BridgeMessage{}, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[1:]))
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return BridgeMessage{}, err
	}
	return BridgeMessage{Type: BridgeMessageType(hdr[0]), Payload: payload}, nil
}

// EncodeBridgeWrite builds the payload of a MsgWrite
func EncodeBridgeWrite(seq uint16, mode WriteMode, data []byte) []byte {
	p := make([]byte, 0, 3+len(data))
	p = binary.LittleEndian.AppendUint16(p, seq)
	p = append(p, byte(mode))
	return append(p, data...)
}

// ParseBridgeWrite splits a MsgWrite payload
func ParseBridgeWrite(p []byte) (seq uint16, mode WriteMode, data []byte, err error) {
	if len(p) < 3 {
		return 0, 0, nil, fmt.Errorf("%w: write payload %d bytes", ErrBridgeMessage, len(p))
	}
	return binary.LittleEndian.Uint16(p), WriteMode(p[2]), p[3:], nil
}

// EncodeBridgeDiscoverResult builds the payload of a MsgDiscoverResult
func EncodeBridgeDiscoverResult(status byte, mtu int, service string) []byte {
	p := make([]byte, 0, 3+len(service))
	p = append(p, status)
	p = binary.LittleEndian.AppendUint16(p, uint16(mtu))
	return append(p, service...)
}

// NewBridgeTLSConfig generates a self-signed certificate for the bridge
// listener
func NewBridgeTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{BridgeProto},
	}, nil
}

// QUICDialer connects to a display behind a QUIC bridge. The address is the
// bridge "host:port".
type QUICDialer struct {
	tlsConfig *tls.Config
	logger    logger.Logger
}

// NewQUICDialer creates a dialer. A nil tlsConfig accepts the bridge's
// self-signed certificate.
func NewQUICDialer(tlsConfig *tls.Config, log logger.Logger) *QUICDialer {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			NextProtos:         []string{BridgeProto},
			InsecureSkipVerify: true, // For self-signed certs
		}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &QUICDialer{tlsConfig: tlsConfig, logger: log}
}

// Dial implements Dialer
func (d *QUICDialer) Dial(ctx context.Context, address string) (Link, error) {
	conn, err := quic.DialAddr(ctx, address, d.tlsConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	l := &quicLink{
		conn:          conn,
		stream:        stream,
		address:       address,
		logger:        d.logger,
		pending:       make(map[uint16]chan byte),
		discovered:    make(chan BridgeMessage, 1),
		notifications: make(chan []byte, notificationBufferSize),
		disconnected:  newSignal(),
	}
	go l.readLoop()

	d.logger.Debug("QUIC: Connected to bridge %s", address)
	return l, nil
}

// quicLink implements Link over one bridge stream
type quicLink struct {
	conn    *quic.Conn
	stream  *quic.Stream
	address string
	logger  logger.Logger

	mtu        atomic.Int32
	seq        atomic.Uint32
	pending    map[uint16]chan byte
	pendingMu  sync.Mutex
	discovered chan BridgeMessage

	notifications chan []byte
	disconnected  *signal
	writeMu       sync.Mutex
	closed        atomic.Bool
}

// readLoop routes bridge messages until the stream fails
func (l *quicLink) readLoop() {
	defer l.disconnected.fire()

	for {
		m, err := ReadBridgeMessage(l.stream)
		if err != nil {
			if !l.closed.Load() {
				l.logger.Warn("QUIC: Bridge %s read failed: %v", l.address, err)
			}
			return
		}

		switch m.Type {
		case MsgNotify:
			select {
			case l.notifications <- m.Payload:
			default:
				l.logger.Warn("QUIC: Notification buffer full, dropping %d bytes", len(m.Payload))
			}

		case MsgDiscoverResult:
			select {
			case l.discovered <- m:
			default:
			}

		case MsgWriteResult:
			if len(m.Payload) < 3 {
				l.logger.Warn("QUIC: %v", ErrBridgeMessage)
				continue
			}
			seq := binary.LittleEndian.Uint16(m.Payload)
			l.pendingMu.Lock()
			ch, ok := l.pending[seq]
			delete(l.pending, seq)
			l.pendingMu.Unlock()
			if ok {
				ch <- m.Payload[2]
			}

		default:
			l.logger.Debug("QUIC: Ignoring %s from bridge", m.Type)
		}
	}
}

func (l *quicLink) send(m BridgeMessage) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return WriteBridgeMessage(l.stream, m)
}

// Discover implements Link
func (l *quicLink) Discover(ctx context.Context) error {
	if err := l.send(BridgeMessage{Type: MsgDiscover}); err != nil {
		return err
	}

	select {
	case m := <-l.discovered:
		if len(m.Payload) < 3 {
			return fmt.Errorf("%w: discover result %d bytes", ErrBridgeMessage, len(m.Payload))
		}
		if m.Payload[0] != BridgeOK || string(m.Payload[3:]) != ServiceUUID {
			return fmt.Errorf("%w: bridge reported status %d service %q", ErrServiceNotFound, m.Payload[0], m.Payload[3:])
		}
		l.mtu.Store(int32(binary.LittleEndian.Uint16(m.Payload[1:])))
		return nil
	case <-l.disconnected.done():
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MTU implements Link
func (l *quicLink) MTU() (int, error) {
	mtu := int(l.mtu.Load())
	if mtu == 0 {
		return 0, ErrMTUUnavailable
	}
	return mtu, nil
}

// Write implements Link
func (l *quicLink) Write(ctx context.Context, p []byte, mode WriteMode) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}

	seq := uint16(l.seq.Add(1))
	var result chan byte
	if mode == WriteWithResponse {
		result = make(chan byte, 1)
		l.pendingMu.Lock()
		l.pending[seq] = result
		l.pendingMu.Unlock()
		defer func() {
			l.pendingMu.Lock()
			delete(l.pending, seq)
			l.pendingMu.Unlock()
		}()
	}

	if deadline, ok := ctx.Deadline(); ok {
		l.stream.SetWriteDeadline(deadline)
		defer l.stream.SetWriteDeadline(time.Time{})
	}
	if err := l.send(BridgeMessage{Type: MsgWrite, Payload: EncodeBridgeWrite(seq, mode, p)}); err != nil {
		select {
		case <-l.disconnected.done():
			return ErrLinkClosed
		default:
		}
		return err
	}
	if result == nil {
		return nil
	}

	select {
	case status := <-result:
		if status != BridgeOK {
			return fmt.Errorf("bridge write failed: status %d", status)
		}
		return nil
	case <-l.disconnected.done():
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications implements Link
func (l *quicLink) Notifications() <-chan []byte {
	return l.notifications
}

// Disconnected implements Link
func (l *quicLink) Disconnected() <-chan struct{} {
	return l.disconnected.done()
}

// Close implements Link
func (l *quicLink) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.stream.Close()
	err := l.conn.CloseWithError(0, "link closed")
	l.disconnected.fire()
	return err
}
