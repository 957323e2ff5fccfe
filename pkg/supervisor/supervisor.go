// Package supervisor keeps a link session connected. It reconnects with
// backoff when the session faults and holds or rejects sends while the link
// is down. It never writes to the link itself.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/internal/queue"
	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/transfer"
	"avaneesh/ipixel-go/pkg/types"
)

// Status is the supervisor's view of the device
type Status int

const (
	StatusIdle Status = iota
	StatusConnected
	StatusReconnecting
	StatusLinkLost // Reconnect attempts exhausted, terminal until Reconnect
	StatusStopped
)

// String returns string representation of Status
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	case StatusLinkLost:
		return "LinkLost"
	case StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// StatusCallback is called when the supervisor status changes
type StatusCallback func(status Status, err error)

// Errors
var (
	ErrLinkLost      = errors.New("reconnect attempts exhausted")
	ErrNotStarted    = errors.New("supervisor not connected")
	ErrStopped       = errors.New("supervisor stopped")
	ErrAlreadyActive = errors.New("supervisor already connected")
)

// Session is the part of link.Session the supervisor drives
type Session interface {
	transfer.Session
	Connect(ctx context.Context, address string) error
	Disconnect()
	SetStateCallback(cb link.StateCallback)
}

var _ Session = (*link.Session)(nil)

// Supervisor owns the reconnect policy for one session
type Supervisor struct {
	session Session
	coord   *transfer.Coordinator
	config  Config
	logger  logger.Logger

	mu     sync.Mutex
	status Status
	queue  *queue.BoundedQueue[*request]
	// Set when the session faults while a reconnect attempt is in flight
	faultPending bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// request is a send waiting for the link to come back
type request struct {
	ctx     context.Context
	cmd     types.Command
	code    codec.CommandCode
	done    chan outcome
	claimed atomic.Bool
}

type outcome struct {
	res   types.TransferResult
	frame *codec.Frame
}

// claim reserves the right to complete r
func (r *request) claim() bool {
	return r.claimed.CompareAndSwap(false, true)
}

// New creates a supervisor and registers it as the session state callback
func New(session Session, coord *transfer.Coordinator, config Config, log logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Reconnect.MaxAttempts < 1 {
		config.Reconnect.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		session: session,
		coord:   coord,
		config:  config,
		logger:  log,
		queue:   queue.NewBoundedQueue[*request](config.QueueDepth),
		ctx:     ctx,
		cancel:  cancel,
	}
	session.SetStateCallback(s.onLinkState)
	return s
}

// Status returns the current status
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// QueueLen returns the number of sends waiting for the link
func (s *Supervisor) QueueLen() int {
	return s.queue.Len()
}

// Start connects, retrying with the reconnect policy. Sends made while it
// runs are queued.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.connect(ctx)
}

// Reconnect leaves the terminal LinkLost status by connecting again
func (s *Supervisor) Reconnect(ctx context.Context) error {
	return s.connect(ctx)
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusIdle, StatusLinkLost:
	case StatusStopped:
		s.mu.Unlock()
		return ErrStopped
	default:
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, status)
	}
	s.status = StatusReconnecting
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.reconnect(cctx, nil)
}

// Stop cancels any reconnect, disconnects the session and fails queued
// sends. The supervisor cannot be restarted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusStopped
	pending := s.queue.Drain()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.session.Disconnect()

	for _, r := range pending {
		s.fail(r, types.StatusCancelled, "supervisor stopped", ErrStopped)
	}
	s.notify(StatusStopped, nil)
}

// Send delivers cmd, queueing it while the link is being re-established
func (s *Supervisor) Send(ctx context.Context, cmd types.Command) types.TransferResult {
	return s.submit(ctx, cmd, 0).res
}

// Request delivers cmd and waits for a response frame with code
func (s *Supervisor) Request(ctx context.Context, cmd types.Command, code codec.CommandCode) (*codec.Frame, types.TransferResult) {
	o := s.submit(ctx, cmd, code)
	return o.frame, o.res
}

func (s *Supervisor) submit(ctx context.Context, cmd types.Command, code codec.CommandCode) outcome {
	s.mu.Lock()
	switch s.status {
	case StatusConnected:
		s.mu.Unlock()
		return s.execute(ctx, cmd, code)

	case StatusReconnecting:
		if s.config.QueuePolicy == RejectWhileReconnecting {
			s.mu.Unlock()
			return outcome{res: s.result(cmd, types.StatusRejected, "reconnecting", link.ErrNotReady)}
		}
		r := &request{ctx: ctx, cmd: cmd, code: code, done: make(chan outcome, 1)}
		evicted, ok := s.queue.Push(r)
		s.mu.Unlock()

		if ok {
			s.fail(evicted, types.StatusRejected, "evicted", nil)
		}
		return s.wait(r)

	case StatusLinkLost:
		s.mu.Unlock()
		return outcome{res: s.result(cmd, types.StatusLinkLost, "link lost", ErrLinkLost)}

	case StatusStopped:
		s.mu.Unlock()
		return outcome{res: s.result(cmd, types.StatusCancelled, "supervisor stopped", ErrStopped)}

	default:
		s.mu.Unlock()
		return outcome{res: s.result(cmd, types.StatusLinkLost, "not connected", ErrNotStarted)}
	}
}

// wait blocks until r completes. A caller that gives up before the request
// is picked off the queue gets Cancelled.
func (s *Supervisor) wait(r *request) outcome {
	select {
	case o := <-r.done:
		return o
	case <-r.ctx.Done():
		if r.claim() {
			return outcome{res: s.result(r.cmd, types.StatusCancelled, "", r.ctx.Err())}
		}
		return <-r.done
	}
}

func (s *Supervisor) execute(ctx context.Context, cmd types.Command, code codec.CommandCode) outcome {
	if code != 0 {
		frame, res := s.coord.Request(ctx, cmd, s.session, code)
		return outcome{res: res, frame: frame}
	}
	return outcome{res: s.coord.Send(ctx, cmd, s.session)}
}

// onLinkState is the session state callback
func (s *Supervisor) onLinkState(state types.LinkState, err error) {
	if cb := s.config.LinkStateCallback; cb != nil {
		cb(state, err)
	}
	if state == types.LinkFaulted {
		s.faulted(err)
	}
}

// faulted starts a reconnect if the supervisor believes the link is up.
// During a reconnect the fault is latched for the attempt in flight.
func (s *Supervisor) faulted(err error) {
	s.mu.Lock()
	switch s.status {
	case StatusConnected:
	case StatusReconnecting:
		s.faultPending = true
		s.mu.Unlock()
		return
	default:
		s.mu.Unlock()
		return
	}
	s.status = StatusReconnecting
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Warn("Supervisor %s: Link faulted (%v), reconnecting", s.config.Address, err)
	s.notify(StatusReconnecting, err)

	go func() {
		defer s.wg.Done()
		s.reconnect(s.ctx, err)
	}()
}

// reconnect runs connection attempts until one succeeds or the policy is
// exhausted. The caller has set StatusReconnecting.
func (s *Supervisor) reconnect(ctx context.Context, cause error) error {
	policy := s.config.Reconnect
	lastErr := cause

	for attempt := 1; policy.Allows(attempt); attempt++ {
		if attempt > 1 {
			if err := policy.Wait(ctx, attempt-1); err != nil {
				return s.abandon(err)
			}
		}

		s.mu.Lock()
		s.faultPending = false
		s.mu.Unlock()

		err := s.session.Connect(ctx, s.config.Address)
		if err == nil {
			switch s.session.State() {
			case types.LinkReady, types.LinkTransferring:
				if s.connected(attempt) {
					return nil
				}
			}
			err = link.ErrLinkClosed
		}
		if ctx.Err() != nil {
			return s.abandon(ctx.Err())
		}

		lastErr = err
		s.logger.Warn("Supervisor %s: Connect attempt %d/%d failed: %v",
			s.config.Address, attempt, policy.MaxAttempts, err)
	}

	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.status = StatusLinkLost
	pending := s.queue.Drain()
	s.mu.Unlock()

	s.logger.Error("Supervisor %s: Giving up after %d attempts: %v", s.config.Address, policy.MaxAttempts, lastErr)
	err := fmt.Errorf("%w: %v", ErrLinkLost, lastErr)
	s.notify(StatusLinkLost, err)

	for _, r := range pending {
		s.fail(r, types.StatusLinkLost, "link lost", ErrLinkLost)
	}
	return err
}

// abandon handles a reconnect interrupted by Stop or by the caller of Start
func (s *Supervisor) abandon(cause error) error {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.status = StatusIdle
	pending := s.queue.Drain()
	s.mu.Unlock()

	for _, r := range pending {
		s.fail(r, types.StatusCancelled, "connect cancelled", cause)
	}
	s.notify(StatusIdle, cause)
	return cause
}

// connected drains queued sends in FIFO order. It returns false when the
// session faulted after the attempt succeeded; faults after StatusConnected
// is set reach onLinkState instead, and whatever is still queued then waits
// for the next connection.
func (s *Supervisor) connected(attempt int) bool {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return true
	}
	if s.faultPending {
		s.faultPending = false
		s.mu.Unlock()
		s.logger.Warn("Supervisor %s: Link faulted during connect attempt %d", s.config.Address, attempt)
		return false
	}
	s.status = StatusConnected
	queued := s.queue.Len()
	s.mu.Unlock()

	s.logger.Info("Supervisor %s: Connected after %d attempt(s), %d queued send(s)", s.config.Address, attempt, queued)
	s.notify(StatusConnected, nil)

	for {
		s.mu.Lock()
		if s.status != StatusConnected {
			s.mu.Unlock()
			return true
		}
		r, ok := s.queue.Pop()
		s.mu.Unlock()
		if !ok {
			return true
		}
		if r.claim() {
			r.done <- s.execute(r.ctx, r.cmd, r.code)
		}
	}
}

func (s *Supervisor) fail(r *request, status types.TransferStatus, reason string, err error) {
	if r.claim() {
		r.done <- outcome{res: s.result(r.cmd, status, reason, err)}
	}
}

func (s *Supervisor) result(cmd types.Command, status types.TransferStatus, reason string, err error) types.TransferResult {
	res := types.TransferResult{ID: uuid.New(), Status: status, Reason: reason, Err: err}
	s.logger.Info("Supervisor %s: %s not sent: %s", s.config.Address, cmd, res)
	return res
}

func (s *Supervisor) notify(status Status, err error) {
	if cb := s.config.StatusCallback; cb != nil {
		cb(status, err)
	}
}
