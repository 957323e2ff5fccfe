package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"avaneesh/ipixel-go/pkg/internal/logger"
)

// attHeaderSize is subtracted from the ATT MTU to get the write payload
const attHeaderSize = 3

// BLEDialer connects to displays over Bluetooth Low Energy
type BLEDialer struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration
	logger      logger.Logger

	enableOnce sync.Once
	enableErr  error

	// Links by device address, for the adapter-wide connect handler
	links   map[string]*bleLink
	linksMu sync.Mutex
}

// NewBLEDialer creates a dialer on adapter. A nil adapter selects
// bluetooth.DefaultAdapter.
func NewBLEDialer(adapter *bluetooth.Adapter, scanTimeout time.Duration, log logger.Logger) *BLEDialer {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &BLEDialer{
		adapter:     adapter,
		scanTimeout: scanTimeout,
		logger:      log,
		links:       make(map[string]*bleLink),
	}
}

// Adapter returns the underlying adapter
func (d *BLEDialer) Adapter() *bluetooth.Adapter {
	return d.adapter
}

// Enable powers up the adapter and installs the disconnect handler once
func (d *BLEDialer) Enable() error {
	d.enableOnce.Do(func() {
		if err := d.adapter.Enable(); err != nil {
			d.enableErr = fmt.Errorf("enable bluetooth adapter: %w", err)
			return
		}
		d.adapter.SetConnectHandler(d.onConnectChange)
	})
	return d.enableErr
}

// Dial implements Dialer. address is a device address or an advertised name.
func (d *BLEDialer) Dial(ctx context.Context, address string) (Link, error) {
	if err := d.Enable(); err != nil {
		return nil, err
	}

	found, err := findDevice(ctx, d.adapter, address, d.scanTimeout)
	if err != nil {
		return nil, fmt.Errorf("scan for %s: %w", address, err)
	}
	d.logger.Debug("BLE: Found %s (%s, rssi=%d)", found.Name, found.Address, found.RSSI)

	device, err := runCtx(ctx, func() (bluetooth.Device, error) {
		return d.adapter.Connect(found.address, bluetooth.ConnectionParams{})
	}, func(late bluetooth.Device) {
		// The peripheral stops advertising while connected
		d.logger.Debug("BLE: Dropping late connection to %s", found.Address)
		late.Disconnect()
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", found.Address, err)
	}

	l := &bleLink{
		device:        device,
		address:       found.Address,
		notifications: make(chan []byte, notificationBufferSize),
		disconnected:  newSignal(),
		writeSem:      make(chan struct{}, 1),
		dialer:        d,
	}

	d.linksMu.Lock()
	d.links[found.Address] = l
	d.linksMu.Unlock()

	return l, nil
}

// onConnectChange is the adapter connect handler
func (d *BLEDialer) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()

	d.linksMu.Lock()
	l, ok := d.links[addr]
	delete(d.links, addr)
	d.linksMu.Unlock()

	if ok {
		d.logger.Info("BLE: %s disconnected", addr)
		l.disconnected.fire()
	}
}

func (d *BLEDialer) forget(l *bleLink) {
	d.linksMu.Lock()
	defer d.linksMu.Unlock()
	if d.links[l.address] == l {
		delete(d.links, l.address)
	}
}

// bleLink implements Link over one GATT connection
type bleLink struct {
	device  bluetooth.Device
	address string
	dialer  *BLEDialer

	writeChar  bluetooth.DeviceCharacteristic
	notifyChar bluetooth.DeviceCharacteristic

	notifications chan []byte
	disconnected  *signal
	writeSem      chan struct{} // Held until the GATT write returns
	closed        atomic.Bool
}

// Discover implements Link
func (l *bleLink) Discover(ctx context.Context) error {
	svcUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return err
	}
	writeUUID, _ := bluetooth.ParseUUID(WriteCharUUID)
	notifyUUID, _ := bluetooth.ParseUUID(NotifyCharUUID)

	_, err = runCtx(ctx, func() (struct{}, error) {
		return struct{}{}, l.discover(svcUUID, writeUUID, notifyUUID)
	}, nil)
	return err
}

func (l *bleLink) discover(svcUUID, writeUUID, notifyUUID bluetooth.UUID) error {
	srvs, err := l.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(srvs) == 0 {
		return fmt.Errorf("%w: %v", ErrServiceNotFound, err)
	}

	chars, err := srvs[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil {
		return fmt.Errorf("%w: characteristics: %v", ErrServiceNotFound, err)
	}

	var haveWrite, haveNotify bool
	for _, c := range chars {
		switch c.UUID().String() {
		case WriteCharUUID:
			l.writeChar = c
			haveWrite = true
		case NotifyCharUUID:
			l.notifyChar = c
			haveNotify = true
		}
	}
	if !haveWrite || !haveNotify {
		return fmt.Errorf("%w: write=%t notify=%t", ErrServiceNotFound, haveWrite, haveNotify)
	}

	return l.notifyChar.EnableNotifications(func(buf []byte) {
		p := make([]byte, len(buf))
		copy(p, buf)
		select {
		case l.notifications <- p:
		default:
		}
	})
}

// MTU implements Link
func (l *bleLink) MTU() (int, error) {
	mtu, err := l.writeChar.GetMTU()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMTUUnavailable, err)
	}
	return int(mtu) - attHeaderSize, nil
}

// Write implements Link. A write abandoned because ctx ended keeps the
// write slot until the adapter returns, so it cannot overlap the next one.
func (l *bleLink) Write(ctx context.Context, p []byte, mode WriteMode) error {
	if l.closed.Load() {
		return ErrLinkClosed
	}
	if mode == WriteWithResponse && !BLEWriteWithResponse {
		return ErrWriteModeUnsupported
	}

	select {
	case l.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err := runCtx(ctx, func() (struct{}, error) {
		defer func() { <-l.writeSem }()
		if mode == WriteWithResponse {
			return struct{}{}, l.writeWithResponse(p)
		}
		_, err := l.writeChar.WriteWithoutResponse(p)
		return struct{}{}, err
	}, nil)
	return err
}

// Notifications implements Link
func (l *bleLink) Notifications() <-chan []byte {
	return l.notifications
}

// Disconnected implements Link
func (l *bleLink) Disconnected() <-chan struct{} {
	return l.disconnected.done()
}

// Close implements Link
func (l *bleLink) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.dialer.forget(l)
	err := l.device.Disconnect()
	l.disconnected.fire()
	return err
}

// runCtx runs a blocking call and returns early if ctx is done. The call
// keeps running in the background in that case; a successful result that
// arrives afterwards is handed to late when it is set.
func runCtx[T any](ctx context.Context, fn func() (T, error), late func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.v)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
