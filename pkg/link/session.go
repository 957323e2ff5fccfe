package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/transport"
	"avaneesh/ipixel-go/pkg/types"
)

// Session owns one connection to one display. It is the only component
// that performs transport I/O. State moves
//
//	Disconnected -> Connecting -> Resolving -> Ready <-> Transferring
//
// and any state may drop to Faulted (link lost) or Disconnected
// (explicit Disconnect).
type Session struct {
	// Configuration
	dialer Dialer
	codec  *codec.Codec
	config SessionConfig
	logger logger.Logger
	stats  *transport.Statistics

	// State
	state    types.LinkState
	address  string
	link     Link
	mtu      int
	lost     *signal
	stopPump chan struct{}
	pumpDone chan struct{}
	cancelFn context.CancelFunc // Cancels an in-flight Connect

	// Channels from the notification pump
	acks      chan AckEvent
	responses chan *codec.Frame

	// Transfer lock, capacity 1
	transfer chan struct{}

	// Synchronization
	mu     sync.Mutex
	connMu sync.Mutex // Serializes Connect and Disconnect
}

// NewSession creates a new session. The session starts Disconnected.
func NewSession(dialer Dialer, c *codec.Codec, config SessionConfig, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Ack == nil {
		config.Ack = NotificationAck{}
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.FallbackMTU <= 0 {
		config.FallbackMTU = DefaultMTU
	}

	return &Session{
		dialer:    dialer,
		codec:     c,
		config:    config,
		logger:    log,
		stats:     transport.NewStatistics(),
		state:     types.LinkDisconnected,
		acks:      make(chan AckEvent, ackBufferSize),
		responses: make(chan *codec.Frame, notificationBufferSize),
		transfer:  make(chan struct{}, 1),
	}
}

// Connect dials the device, resolves the display service and negotiates
// the MTU. On failure the session is left Disconnected.
func (s *Session) Connect(ctx context.Context, address string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case types.LinkDisconnected, types.LinkFaulted:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, s.state)
	}
	cctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()
	s.cancelFn = cancel
	s.address = address
	s.mu.Unlock()

	s.transition(types.LinkConnecting, nil)
	s.logger.Info("Session %s: Connecting", address)

	l, err := s.dialer.Dial(cctx, address)
	if err != nil {
		cerr := s.connectError(cctx, address, err, DeviceUnreachable)
		s.transition(types.LinkDisconnected, cerr)
		return cerr
	}

	s.transition(types.LinkResolving, nil)

	if err := l.Discover(cctx); err != nil {
		l.Close()
		cerr := s.connectError(cctx, address, err, ServiceNotFound)
		s.transition(types.LinkDisconnected, cerr)
		return cerr
	}

	mtu, err := l.MTU()
	if err != nil || mtu <= transport.HeaderSize {
		s.logger.Warn("Session %s: MTU negotiation failed (mtu=%d, err=%v), using %d", address, mtu, err, s.config.FallbackMTU)
		mtu = s.config.FallbackMTU
	}
	if s.config.MTUCeiling > 0 && mtu > s.config.MTUCeiling {
		mtu = s.config.MTUCeiling
	}

	s.drain()

	s.mu.Lock()
	if cctx.Err() != nil {
		// Disconnect raced with us
		s.mu.Unlock()
		l.Close()
		cerr := s.connectError(cctx, address, cctx.Err(), ConnectTimeout)
		s.transition(types.LinkDisconnected, cerr)
		return cerr
	}
	s.link = l
	s.mtu = mtu
	s.lost = newSignal()
	s.stopPump = make(chan struct{})
	s.pumpDone = make(chan struct{})
	s.cancelFn = nil
	go s.pump(l, s.stopPump, s.pumpDone)
	s.mu.Unlock()

	s.transition(types.LinkReady, nil)
	s.logger.Info("Session %s: Ready (mtu=%d, chunk payload=%d, ack=%s)", address, mtu, mtu-transport.HeaderSize, s.config.Ack.Name())
	return nil
}

func (s *Session) connectError(ctx context.Context, address string, err error, kind ConnectErrorKind) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, ErrServiceNotFound) {
		kind = ServiceNotFound
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		kind = ConnectTimeout
	}
	return &ConnectError{Kind: kind, Address: address, Err: err}
}

// Disconnect closes the connection. It is idempotent and always leaves the
// session Disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.mu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	l := s.link
	lost := s.lost
	stop, done := s.stopPump, s.pumpDone
	s.link = nil
	s.stopPump, s.pumpDone = nil, nil
	already := s.state == types.LinkDisconnected
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if lost != nil {
		lost.fire()
	}
	if l != nil {
		l.Close()
	}

	if !already {
		s.transition(types.LinkDisconnected, nil)
		s.logger.Info("Session %s: Disconnected", s.Address())
	}
}

// State returns the current link state
func (s *Session) State() types.LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the address of the last Connect
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// MTU returns the usable MTU of the current connection, 0 when not connected
func (s *Session) MTU() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return 0
	}
	return s.mtu
}

// MaxChunkPayload returns the largest chunk payload that fits one write
func (s *Session) MaxChunkPayload() int {
	mtu := s.MTU()
	if mtu == 0 {
		return 0
	}
	return transport.Config{MTUCeiling: s.config.MTUCeiling}.ChunkPayload(mtu)
}

// Codec returns the codec used to parse notifications
func (s *Session) Codec() *codec.Codec {
	return s.codec
}

// Statistics returns chunk level counters for this session
func (s *Session) Statistics() *transport.Statistics {
	return s.stats
}

// SetStateCallback replaces the state callback
func (s *Session) SetStateCallback(cb StateCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.StateCallback = cb
}

// Acquire takes the exclusive transfer lock and moves the session to
// Transferring. It blocks until the lock is free or ctx is done.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.transfer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.state != types.LinkReady {
		state := s.state
		s.mu.Unlock()
		<-s.transfer
		return fmt.Errorf("%w: %s", ErrNotReady, state)
	}
	s.mu.Unlock()

	s.transition(types.LinkTransferring, nil)
	return nil
}

// Release gives up the transfer lock taken by Acquire
func (s *Session) Release() {
	s.mu.Lock()
	back := s.state == types.LinkTransferring
	s.mu.Unlock()

	if back {
		s.transition(types.LinkReady, nil)
	}

	select {
	case <-s.transfer:
	default:
	}
}

// WriteChunk performs one write of c and waits for its acknowledgement
// using the configured AckStrategy.
func (s *Session) WriteChunk(ctx context.Context, c transport.Chunk) (codec.Ack, error) {
	view, err := s.view(c.Index)
	if err != nil {
		return codec.Ack{}, err
	}

	if c.IsFirst() {
		s.drain()
	}

	s.stats.IncrementTxChunks()
	ack, err := s.config.Ack.Deliver(ctx, view, c)
	if err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			switch we.Kind {
			case WriteTimeout:
				s.stats.IncrementTimeouts()
			case WriteRejected:
				s.stats.IncrementRejects()
			case WriteLinkLost:
				s.fault(view.link, err)
			}
		}
		s.logger.Debug("Session %s: %v", s.Address(), err)
		return codec.Ack{}, err
	}

	if c.IsLast() {
		s.stats.IncrementTxFrames()
	}
	return ack, nil
}

// AwaitFrameAck waits for the frame level acknowledgement sent by variants
// that confirm a fully applied frame.
func (s *Session) AwaitFrameAck(ctx context.Context) error {
	view, err := s.view(codec.FrameAckIndex)
	if err != nil {
		return err
	}

	timer := time.NewTimer(s.config.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-s.acks:
			if ev.Err != nil {
				return &WriteError{Kind: WriteTimeout, Index: codec.FrameAckIndex, Err: ev.Err}
			}
			if ev.Ack.Index != codec.FrameAckIndex {
				continue
			}
			if ev.Ack.Status != codec.AckFrameComplete {
				s.stats.IncrementRejects()
				return &WriteError{Kind: WriteRejected, Index: codec.FrameAckIndex, Status: ev.Ack.Status}
			}
			return nil

		case <-timer.C:
			s.stats.IncrementTimeouts()
			return &WriteError{Kind: WriteTimeout, Index: codec.FrameAckIndex}

		case <-view.lost.done():
			return &WriteError{Kind: WriteLinkLost, Index: codec.FrameAckIndex, Err: ErrLinkClosed}

		case <-ctx.Done():
			return &WriteError{Kind: WriteTimeout, Index: codec.FrameAckIndex, Err: ctx.Err()}
		}
	}
}

// AwaitResponse waits for a device to host frame with the given code
func (s *Session) AwaitResponse(ctx context.Context, code codec.CommandCode) (*codec.Frame, error) {
	view, err := s.view(codec.FrameAckIndex)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.config.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-s.responses:
			if f.Code != code {
				s.logger.Debug("Session %s: Skipping %s while waiting for %s", s.Address(), f.Code, code)
				continue
			}
			return f, nil

		case <-timer.C:
			return nil, &WriteError{Kind: WriteTimeout, Index: codec.FrameAckIndex, Err: fmt.Errorf("no %s response", code)}

		case <-view.lost.done():
			return nil, &WriteError{Kind: WriteLinkLost, Index: codec.FrameAckIndex, Err: ErrLinkClosed}

		case <-ctx.Done():
			return nil, &WriteError{Kind: WriteTimeout, Index: codec.FrameAckIndex, Err: ctx.Err()}
		}
	}
}

// view snapshots the current link for one operation
func (s *Session) view(index uint16) (*sessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil || (s.state != types.LinkReady && s.state != types.LinkTransferring) {
		return nil, &WriteError{Kind: WriteLinkLost, Index: index, Err: fmt.Errorf("%w: %s", ErrNotReady, s.state)}
	}
	return &sessionView{session: s, link: s.link, lost: s.lost}, nil
}

// pump moves notifications into the ack and response channels until the
// link drops or Disconnect stops it.
func (s *Session) pump(l Link, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return

		case <-l.Disconnected():
			s.fault(l, ErrLinkClosed)
			return

		case p := <-l.Notifications():
			s.dispatch(p)
		}
	}
}

// dispatch decodes one notification
func (s *Session) dispatch(p []byte) {
	logger.Frame(s.logger, "RX", p)

	frame, err := s.codec.Decode(p)
	if err != nil {
		s.logger.Warn("Session %s: Malformed notification (% X): %v", s.Address(), p, err)
		s.push(AckEvent{Err: err})
		return
	}

	if frame.Code != codec.CodeAck {
		select {
		case s.responses <- frame:
		default:
			s.logger.Warn("Session %s: Response buffer full, dropping %s", s.Address(), frame.Code)
		}
		return
	}

	ack, err := codec.ParseAck(frame)
	if err != nil {
		s.logger.Warn("Session %s: Malformed ack: %v", s.Address(), err)
		s.push(AckEvent{Err: err})
		return
	}
	s.push(AckEvent{Ack: ack})
}

func (s *Session) push(ev AckEvent) {
	select {
	case s.acks <- ev:
	default:
		s.logger.Warn("Session %s: Ack buffer full, dropping %v", s.Address(), ev.Ack)
	}
}

// drain discards stale acks and responses
func (s *Session) drain() {
	for {
		select {
		case <-s.acks:
		case <-s.responses:
		default:
			return
		}
	}
}

// fault marks the session Faulted if l is still the active link
func (s *Session) fault(l Link, err error) {
	s.mu.Lock()
	if s.link == nil || s.link != l {
		s.mu.Unlock()
		return
	}
	lost := s.lost
	s.link = nil
	s.stopPump, s.pumpDone = nil, nil
	s.mu.Unlock()

	lost.fire()
	l.Close()

	s.logger.Warn("Session %s: Link lost: %v", s.Address(), err)
	s.transition(types.LinkFaulted, err)
}

// transition records the new state and notifies the callback synchronously
func (s *Session) transition(state types.LinkState, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	cb := s.config.StateCallback
	s.mu.Unlock()

	if prev == state {
		return
	}
	s.logger.Debug("Session %s: %s -> %s", s.Address(), prev, state)
	if cb != nil {
		cb(state, err)
	}
}

// sessionView is the AckTransport handed to the ack strategy
type sessionView struct {
	session *Session
	link    Link
	lost    *signal
}

func (v *sessionView) Write(ctx context.Context, p []byte, mode WriteMode) error {
	select {
	case <-v.lost.done():
		return ErrLinkClosed
	default:
	}
	logger.Frame(v.session.logger, "TX", p)
	return v.link.Write(ctx, p, mode)
}

func (v *sessionView) Acks() <-chan AckEvent {
	return v.session.acks
}

func (v *sessionView) Lost() <-chan struct{} {
	return v.lost.done()
}

func (v *sessionView) AckTimeout() time.Duration {
	return v.session.config.AckTimeout
}

// signal is a broadcast that can be fired once
type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *signal) done() <-chan struct{} {
	return s.ch
}
