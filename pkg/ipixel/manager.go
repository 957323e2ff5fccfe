// Package ipixel is the entry point for driving LED matrix displays. A
// Manager owns any number of Devices; each Device keeps its link up and
// delivers commands reliably.
package ipixel

import (
	"context"
	"fmt"
	"sync"

	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/link"
)

// Manager is the root object for display operations
type Manager struct {
	devices map[string]*Device
	mu      sync.RWMutex
	logger  logger.Logger

	// One BLE dialer per process, the adapter connect handler is global
	ble     *link.BLEDialer
	bleOnce sync.Once
}

// NewManager creates a new manager using the global logger
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a new manager with custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		devices: make(map[string]*Device),
		logger:  log,
	}
}

// AddDevice creates a device reached over config.Transport. The device is
// not connected until Connect is called.
func (m *Manager) AddDevice(id string, config Config, callbacks Callbacks) (*Device, error) {
	dialer, err := m.dialerFor(config)
	if err != nil {
		return nil, err
	}
	return m.AddDeviceWithDialer(id, config, callbacks, dialer)
}

// AddDeviceWithDialer creates a device reached through dialer, which
// overrides config.Transport
func (m *Manager) AddDeviceWithDialer(id string, config Config, callbacks Callbacks, dialer link.Dialer) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[id]; exists {
		return nil, fmt.Errorf("device %s already exists", id)
	}

	d, err := newDevice(id, config, callbacks, dialer, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device %s: %w", id, err)
	}

	m.devices[id] = d
	m.logger.Info("Manager: Added device %s (%s via %s, %s)", id, config.Address, config.Transport, config.Variant)
	return d, nil
}

// RemoveDevice closes and removes a device
func (m *Manager) RemoveDevice(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[id]
	if !exists {
		return fmt.Errorf("device %s not found", id)
	}

	if err := d.Close(); err != nil {
		m.logger.Error("Error closing device %s: %v", id, err)
	}

	delete(m.devices, id)
	m.logger.Info("Manager: Removed device %s", id)
	return nil
}

// GetDevice returns a device by ID
func (m *Manager) GetDevice(id string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, exists := m.devices[id]
	return d, exists
}

// DeviceCount returns the number of devices
func (m *Manager) DeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Shutdown closes every device
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	for id, d := range m.devices {
		if err := d.Close(); err != nil {
			m.logger.Error("Error closing device %s: %v", id, err)
		}
	}

	m.devices = make(map[string]*Device)
	m.logger.Info("Manager: Shutdown complete")
	return nil
}

// Scan lists advertising displays, strongest signal first
func (m *Manager) Scan(ctx context.Context, config Config) ([]link.ScanResult, error) {
	ble := m.bleDialer(config)
	if err := ble.Enable(); err != nil {
		return nil, err
	}
	return link.Scan(ctx, ble.Adapter(), link.DeviceNamePrefix, config.ScanTimeout)
}

func (m *Manager) dialerFor(config Config) (link.Dialer, error) {
	switch config.Transport {
	case TransportBLE, "":
		return m.bleDialer(config), nil
	case TransportQUIC:
		return link.NewQUICDialer(nil, m.logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", config.Transport)
	}
}

func (m *Manager) bleDialer(config Config) *link.BLEDialer {
	m.bleOnce.Do(func() {
		m.ble = link.NewBLEDialer(nil, config.ScanTimeout, m.logger)
	})
	return m.ble
}
