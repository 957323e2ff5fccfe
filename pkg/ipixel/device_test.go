package ipixel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/simulator"
	"avaneesh/ipixel-go/pkg/supervisor"
	"avaneesh/ipixel-go/pkg/transfer"
	"avaneesh/ipixel-go/pkg/types"
)

const simAddress = "LED_BLE_SIM"

func testConfig() Config {
	c := DefaultConfig()
	c.Address = simAddress
	c.AckTimeout = 100 * time.Millisecond
	c.BackoffBase = time.Millisecond
	c.ReconnectBase = 5 * time.Millisecond
	c.ReconnectCap = 20 * time.Millisecond
	return c
}

func newTestDevice(t *testing.T, config Config, simConfig simulator.Config, callbacks Callbacks) (*Device, *simulator.Device, *simulator.Dialer) {
	t.Helper()

	sim := simulator.NewDevice(simConfig, nil)
	dialer := simulator.NewDialer()
	dialer.Register(config.Address, sim)

	m := NewManagerWithLogger(nil)
	t.Cleanup(func() { m.Shutdown() })

	d, err := m.AddDeviceWithDialer("panel", config, callbacks, dialer)
	require.NoError(t, err)
	return d, sim, dialer
}

func blank(t *testing.T, w, h int) *types.PixelMatrix {
	t.Helper()
	m, err := types.NewBlankMatrix(w, h, types.BiLevel)
	require.NoError(t, err)
	return m
}

func TestDeviceCommands(t *testing.T) {
	var mu sync.Mutex
	var progress []transfer.Progress
	d, sim, _ := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{
		OnProgress: func(p transfer.Progress) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, d.Connect(ctx))
	assert.Equal(t, types.LinkReady, d.State())
	assert.Equal(t, supervisor.StatusConnected, d.Status())
	assert.Equal(t, 20, d.MTU())

	_, known := d.PowerState()
	assert.False(t, known)

	res := d.SetPower(ctx, true)
	require.True(t, res.IsSuccess(), res.String())
	on, known := d.PowerState()
	assert.True(t, known)
	assert.True(t, on)
	assert.True(t, sim.Power())

	res = d.SetBrightness(ctx, 80)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, uint8(80), sim.Brightness())

	m, err := blank(t, 32, 8).WithPixel(0, 0, 1)
	require.NoError(t, err)
	res = d.DisplayBitmap(ctx, m)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 3, res.TotalChunks)
	assert.True(t, m.Equal(sim.Matrix()))

	mu.Lock()
	assert.Len(t, progress, 5) // power, brightness, three bitmap chunks
	mu.Unlock()

	assert.EqualValues(t, 3, d.Statistics().GetTxFrames())
}

func TestDeviceConnectTwice(t *testing.T) {
	d, _, dialer := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{})

	require.NoError(t, d.Connect(context.Background()))
	require.NoError(t, d.Connect(context.Background()))
	assert.Equal(t, 1, dialer.Dials())
}

func TestDeviceBrightnessOutOfRange(t *testing.T) {
	d, _, _ := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{})
	require.NoError(t, d.Connect(context.Background()))

	res := d.SetBrightness(context.Background(), 0)

	assert.Equal(t, types.StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, codec.ErrInvalidBrightness)
}

func TestDeviceQueryInfo(t *testing.T) {
	simCfg := simulator.DefaultConfig()
	simCfg.Info.Width, simCfg.Info.Height = 32, 16
	d, sim, _ := newTestDevice(t, testConfig(), simCfg, Callbacks{})
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	_, ok := d.DeviceInfo()
	assert.False(t, ok)

	info, res := d.QueryDeviceInfo(ctx)
	require.True(t, res.IsSuccess(), res.String())
	assert.True(t, info.Reported)
	assert.Equal(t, 32, info.Width)
	assert.Equal(t, "1.4", info.MCUVersion)

	cached, ok := d.DeviceInfo()
	assert.True(t, ok)
	assert.Equal(t, info, cached)

	// Wider than the panel: rejected without touching the link
	sim.ResetHistory()
	res = d.DisplayBitmap(ctx, blank(t, 64, 16))
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, ErrBitmapTooLarge)
	assert.Empty(t, sim.Received())

	res = d.DisplayBitmap(ctx, blank(t, 32, 16))
	require.True(t, res.IsSuccess(), res.String())
}

func TestDeviceQueryInfoFallback(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	d, sim, _ := newTestDevice(t, cfg, simulator.DefaultConfig(), Callbacks{})
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	sim.InjectFaults(simulator.Faults{DropAcks: 1})
	info, res := d.QueryDeviceInfo(ctx)

	assert.Equal(t, types.StatusTimeout, res.Status)
	assert.False(t, info.Reported)
	assert.Equal(t, types.DefaultDeviceInfo(), info)

	// Defaults bound later bitmaps too
	res = d.DisplayBitmap(ctx, blank(t, 96, 16))
	assert.ErrorIs(t, res.Err, ErrBitmapTooLarge)
}

func TestDeviceClearAndSetPixel(t *testing.T) {
	simCfg := simulator.DefaultConfig()
	simCfg.Info.Width, simCfg.Info.Height = 16, 8
	d, sim, _ := newTestDevice(t, testConfig(), simCfg, Callbacks{})
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))
	_, res := d.QueryDeviceInfo(ctx)
	require.True(t, res.IsSuccess(), res.String())

	res = d.Clear(ctx)
	require.True(t, res.IsSuccess(), res.String())
	assert.True(t, blank(t, 16, 8).Equal(sim.Matrix()))

	res = d.SetPixel(ctx, 3, 2, 1)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, uint8(1), sim.Matrix().At(3, 2))
	assert.True(t, sim.Matrix().Equal(d.Shown()))

	// Unchanged pixel: nothing is written
	sim.ResetHistory()
	res = d.SetPixel(ctx, 3, 2, 1)
	require.True(t, res.IsSuccess(), res.String())
	assert.Empty(t, sim.Received())

	res = d.SetPixel(ctx, 16, 0, 1)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Empty(t, sim.Received())
}

func TestDeviceSetPixelStartsBlank(t *testing.T) {
	d, sim, _ := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{})
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	res := d.SetPixel(ctx, 0, 0, 1)
	require.True(t, res.IsSuccess(), res.String())

	info := types.DefaultDeviceInfo()
	require.NotNil(t, sim.Matrix())
	assert.Equal(t, info.Width, sim.Matrix().Width())
	assert.Equal(t, uint8(1), sim.Matrix().At(0, 0))
}

func TestDeviceClock(t *testing.T) {
	d, sim, _ := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{})
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	at := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	res := d.SyncTime(ctx, at)
	require.True(t, res.IsSuccess(), res.String())
	assert.WithinDuration(t, at, sim.Now(), 2*time.Second)

	require.True(t, d.Clear(ctx).IsSuccess())
	require.NotNil(t, d.Shown())

	res = d.SetClockMode(ctx, types.ClockMode{Style: 1, Format24: true})
	require.True(t, res.IsSuccess(), res.String())

	mode, ok := sim.Clock()
	require.True(t, ok)
	assert.Equal(t, uint8(1), mode.Style)
	assert.True(t, mode.Format24)
	// Setting the clock face also syncs the device clock
	assert.WithinDuration(t, time.Now(), sim.Now(), 2*time.Second)
	assert.Nil(t, d.Shown())
	assert.Nil(t, sim.Matrix())
}

func TestDeviceClockStyleRejected(t *testing.T) {
	d, sim, _ := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{})
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	res := d.SetClockMode(ctx, types.ClockMode{Style: types.MaxClockStyle + 1})

	assert.Equal(t, types.StatusRejected, res.Status)
	assert.ErrorIs(t, res.Err, types.ErrInvalidClockStyle)
	assert.Empty(t, sim.Received())
}

func TestDeviceReconnects(t *testing.T) {
	var mu sync.Mutex
	var statuses []supervisor.Status
	d, sim, dialer := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{
		OnStatus: func(s supervisor.Status, _ error) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})
	require.NoError(t, d.Connect(context.Background()))

	sim.Drop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, dialer.Dials())

	res := d.SetPower(context.Background(), false)
	require.True(t, res.IsSuccess(), res.String())
}

func TestDeviceClose(t *testing.T) {
	d, _, _ := newTestDevice(t, testConfig(), simulator.DefaultConfig(), Callbacks{})
	require.NoError(t, d.Connect(context.Background()))

	require.NoError(t, d.Close())

	assert.Equal(t, types.LinkDisconnected, d.State())
	assert.ErrorIs(t, d.Connect(context.Background()), supervisor.ErrStopped)
	res := d.SetPower(context.Background(), true)
	assert.Equal(t, types.StatusCancelled, res.Status)
}

func TestManagerDevices(t *testing.T) {
	m := NewManagerWithLogger(nil)
	dialer := simulator.NewDialer()

	_, err := m.AddDeviceWithDialer("a", testConfig(), Callbacks{}, dialer)
	require.NoError(t, err)
	_, err = m.AddDeviceWithDialer("a", testConfig(), Callbacks{}, dialer)
	assert.ErrorContains(t, err, "already exists")

	noAddr := testConfig()
	noAddr.Address = ""
	_, err = m.AddDeviceWithDialer("b", noAddr, Callbacks{}, dialer)
	assert.ErrorContains(t, err, "address is required")

	bad := testConfig()
	bad.Variant = "v9"
	_, err = m.AddDevice("c", bad, Callbacks{})
	assert.Error(t, err)

	assert.Equal(t, 1, m.DeviceCount())
	d, ok := m.GetDevice("a")
	require.True(t, ok)
	assert.Equal(t, "a", d.ID())

	require.NoError(t, m.RemoveDevice("a"))
	assert.Error(t, m.RemoveDevice("a"))
	_, ok = m.GetDevice("a")
	assert.False(t, ok)

	require.NoError(t, m.Shutdown())
	assert.Zero(t, m.DeviceCount())
}

func TestManagerQUICTransport(t *testing.T) {
	sim := simulator.NewDevice(simulator.DefaultConfig(), nil)
	server, err := simulator.NewQUICServer(sim, "127.0.0.1:0", nil, nil)
	require.NoError(t, err)
	defer server.Close()

	cfg := testConfig()
	cfg.Transport = TransportQUIC
	cfg.Address = server.Addr().String()
	cfg.AckTimeout = 500 * time.Millisecond

	m := NewManagerWithLogger(nil)
	defer m.Shutdown()

	d, err := m.AddDevice("bridge", cfg, Callbacks{})
	require.NoError(t, err)
	require.NoError(t, d.Connect(context.Background()))

	res := d.SetBrightness(context.Background(), 33)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, uint8(33), sim.Brightness())
}
