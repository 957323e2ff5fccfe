package simulator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"avaneesh/ipixel-go/pkg/link"
)

// Dialer connects to registered virtual devices in process
type Dialer struct {
	devices map[string]*Device
	dials   atomic.Int64
	mu      sync.RWMutex
}

// NewDialer creates an empty dialer
func NewDialer() *Dialer {
	return &Dialer{devices: make(map[string]*Device)}
}

// Register makes dev reachable at address
func (d *Dialer) Register(address string, dev *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[address] = dev
}

// Dials returns how many times Dial was called
func (d *Dialer) Dials() int {
	return int(d.dials.Load())
}

// Dial implements link.Dialer
func (d *Dialer) Dial(ctx context.Context, address string) (link.Link, error) {
	d.dials.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	dev, ok := d.devices[address]
	d.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", link.ErrDeviceNotFound, address)
	}
	if dev.refuseDial() {
		return nil, fmt.Errorf("%s: connection refused", address)
	}

	l := &memLink{
		device:        dev,
		notifications: make(chan []byte, 64),
		disconnected:  make(chan struct{}),
	}
	dev.attach(l)
	return l, nil
}

// memLink is the in-process link.Link of a virtual device
type memLink struct {
	device        *Device
	notifications chan []byte
	disconnected  chan struct{}
	once          sync.Once
	closed        atomic.Bool
}

func (l *memLink) Discover(ctx context.Context) error {
	if l.device.config.ServiceMissing {
		return fmt.Errorf("%w: %s", link.ErrServiceNotFound, link.ServiceUUID)
	}
	return ctx.Err()
}

func (l *memLink) MTU() (int, error) {
	if l.device.config.MTU <= 0 {
		return 0, link.ErrMTUUnavailable
	}
	return l.device.config.MTU, nil
}

func (l *memLink) Write(ctx context.Context, p []byte, mode link.WriteMode) error {
	if l.closed.Load() {
		return link.ErrLinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	notes, ok, drop := l.device.Handle(p, mode)
	if drop {
		l.device.detach(l)
		l.drop()
		return link.ErrLinkClosed
	}

	for _, n := range notes {
		select {
		case l.notifications <- n:
		default:
		}
	}

	if mode == link.WriteWithResponse && !ok {
		return fmt.Errorf("write rejected by device")
	}
	return nil
}

func (l *memLink) Notifications() <-chan []byte {
	return l.notifications
}

func (l *memLink) Disconnected() <-chan struct{} {
	return l.disconnected
}

func (l *memLink) Close() error {
	l.device.detach(l)
	l.drop()
	return nil
}

func (l *memLink) drop() {
	l.closed.Store(true)
	l.once.Do(func() { close(l.disconnected) })
}
