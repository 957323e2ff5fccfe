package link

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// DefaultScanTimeout bounds a discovery scan
const DefaultScanTimeout = 5 * time.Second

// ScanResult describes one advertising display
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16

	address bluetooth.Address
}

// Scan listens for advertisements whose local name starts with prefix and
// returns one entry per device, strongest signal first. An empty prefix
// selects DeviceNamePrefix.
func Scan(ctx context.Context, adapter *bluetooth.Adapter, prefix string, timeout time.Duration) ([]ScanResult, error) {
	if prefix == "" {
		prefix = DeviceNamePrefix
	}

	var mu sync.Mutex
	seen := make(map[string]ScanResult)

	err := scanUntil(ctx, adapter, timeout, func(r bluetooth.ScanResult) bool {
		name := r.LocalName()
		if !strings.HasPrefix(name, prefix) {
			return false
		}
		addr := r.Address.String()

		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen[addr]; !ok || r.RSSI > prev.RSSI {
			seen[addr] = ScanResult{Name: name, Address: addr, RSSI: r.RSSI, address: r.Address}
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()

	results := make([]ScanResult, 0, len(seen))
	for _, r := range seen {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RSSI > results[j].RSSI })
	return results, nil
}

// findDevice scans until an advertisement matches address either by MAC /
// platform address or by local name.
func findDevice(ctx context.Context, adapter *bluetooth.Adapter, address string, timeout time.Duration) (ScanResult, error) {
	var found ScanResult
	var ok bool

	err := scanUntil(ctx, adapter, timeout, func(r bluetooth.ScanResult) bool {
		addr := r.Address.String()
		name := r.LocalName()
		if strings.EqualFold(addr, address) || (name != "" && name == address) {
			found = ScanResult{Name: name, Address: addr, RSSI: r.RSSI, address: r.Address}
			ok = true
			return true
		}
		return false
	})
	if err != nil {
		return ScanResult{}, err
	}
	if !ok {
		return ScanResult{}, ErrDeviceNotFound
	}
	return found, nil
}

// scanUntil runs a blocking adapter scan until match returns true, the
// timeout elapses or ctx is done.
func scanUntil(ctx context.Context, adapter *bluetooth.Adapter, timeout time.Duration, match func(bluetooth.ScanResult) bool) error {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { adapter.StopScan() })
	}

	done := make(chan error, 1)
	go func() {
		done <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if match(r) {
				stop()
			}
		})
	}()

	select {
	case err := <-done:
		return err
	case <-sctx.Done():
		stop()
		err := <-done
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
