package ipixel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/supervisor"
	"avaneesh/ipixel-go/pkg/transfer"
	"avaneesh/ipixel-go/pkg/transport"
	"avaneesh/ipixel-go/pkg/types"
)

// ErrBitmapTooLarge is returned for a bitmap exceeding the device panel
var ErrBitmapTooLarge = errors.New("bitmap larger than device panel")

// Callbacks receive device events. All fields are optional and are called
// synchronously from the goroutine that observed the event.
type Callbacks struct {
	OnStatus    supervisor.StatusCallback
	OnLinkState link.StateCallback
	OnProgress  transfer.ProgressCallback
}

// Device is one display: a link session, the transfer coordinator and the
// reconnect supervisor wired together
type Device struct {
	id      string
	config  Config
	session *link.Session
	coord   *transfer.Coordinator
	sup     *supervisor.Supervisor
	logger  logger.Logger

	mu       sync.RWMutex
	info     types.DeviceInfo
	haveInfo bool
	power    bool
	havePow  bool
	shown    *types.PixelMatrix // Last acknowledged bitmap, nil while a clock face shows
}

func newDevice(id string, config Config, callbacks Callbacks, dialer link.Dialer, log logger.Logger) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Address == "" {
		return nil, errors.New("device address is required")
	}

	variant, err := codec.LookupVariant(config.Variant)
	if err != nil {
		return nil, err
	}
	sessCfg, err := config.sessionConfig()
	if err != nil {
		return nil, err
	}
	supCfg, err := config.supervisorConfig()
	if err != nil {
		return nil, err
	}
	tcfg := config.transferConfig()
	tcfg.OnProgress = callbacks.OnProgress

	d := &Device{
		id:     id,
		config: config,
		logger: log,
	}

	supCfg.LinkStateCallback = callbacks.OnLinkState
	supCfg.StatusCallback = func(status supervisor.Status, err error) {
		if err != nil {
			log.Info("Device %s: %s (%v)", id, status, err)
		} else {
			log.Info("Device %s: %s", id, status)
		}
		if callbacks.OnStatus != nil {
			callbacks.OnStatus(status, err)
		}
	}

	d.session = link.NewSession(dialer, codec.New(variant), sessCfg, log)
	d.coord = transfer.NewCoordinator(tcfg, log)
	d.sup = supervisor.New(d.session, d.coord, supCfg, log)
	return d, nil
}

// ID returns the manager key of the device
func (d *Device) ID() string {
	return d.id
}

// Config returns the device configuration
func (d *Device) Config() Config {
	return d.config
}

// Connect establishes the link, retrying with the reconnect policy
func (d *Device) Connect(ctx context.Context) error {
	err := d.sup.Reconnect(ctx)
	if errors.Is(err, supervisor.ErrAlreadyActive) {
		return nil
	}
	return err
}

// Close disconnects and fails any queued sends. A closed device cannot be
// reconnected.
func (d *Device) Close() error {
	d.sup.Stop()
	return nil
}

// Send delivers any command
func (d *Device) Send(ctx context.Context, cmd types.Command) types.TransferResult {
	return d.sup.Send(ctx, cmd)
}

// SetPower switches the panel on or off
func (d *Device) SetPower(ctx context.Context, on bool) types.TransferResult {
	res := d.sup.Send(ctx, types.NewSetPower(on))
	if res.IsSuccess() {
		d.mu.Lock()
		d.power, d.havePow = on, true
		d.mu.Unlock()
	}
	return res
}

// SetBrightness sets the brightness level, 1 to 100
func (d *Device) SetBrightness(ctx context.Context, level int) types.TransferResult {
	return d.sup.Send(ctx, types.NewSetBrightness(level))
}

// DisplayBitmap shows m. Once the device has reported its panel size a
// larger bitmap is rejected without touching the link.
func (d *Device) DisplayBitmap(ctx context.Context, m *types.PixelMatrix) types.TransferResult {
	if m != nil {
		d.mu.RLock()
		info, ok := d.info, d.haveInfo
		d.mu.RUnlock()

		if ok && (m.Width() > info.Width || m.Height() > info.Height) {
			err := fmt.Errorf("%w: %dx%d on a %dx%d panel", ErrBitmapTooLarge, m.Width(), m.Height(), info.Width, info.Height)
			d.logger.Warn("Device %s: %v", d.id, err)
			return rejected("bitmap exceeds panel", err)
		}
	}
	res := d.sup.Send(ctx, types.NewDisplayBitmap(m))
	if res.IsSuccess() {
		d.mu.Lock()
		d.shown = m
		d.mu.Unlock()
	}
	return res
}

// Clear shows a blank bitmap the size of the panel
func (d *Device) Clear(ctx context.Context) types.TransferResult {
	w, h := d.panelSize()
	m, err := types.NewBlankMatrix(w, h, types.BiLevel)
	if err != nil {
		return rejected("blank bitmap", err)
	}
	return d.DisplayBitmap(ctx, m)
}

// SetPixel changes one pixel of the bitmap on screen and redraws it. With
// nothing on screen it starts from a blank panel. Setting a pixel to the
// value it already has sends nothing.
func (d *Device) SetPixel(ctx context.Context, x, y int, v uint8) types.TransferResult {
	d.mu.RLock()
	cur := d.shown
	d.mu.RUnlock()
	onScreen := cur != nil

	if !onScreen {
		w, h := d.panelSize()
		blank, err := types.NewBlankMatrix(w, h, types.BiLevel)
		if err != nil {
			return rejected("blank bitmap", err)
		}
		cur = blank
	}

	next, err := cur.WithPixel(x, y, v)
	if err != nil {
		return rejected("pixel", err)
	}
	if onScreen && next.Equal(cur) {
		return types.TransferResult{ID: uuid.New(), Status: types.StatusSuccess}
	}
	return d.DisplayBitmap(ctx, next)
}

// Shown returns the last bitmap the device acknowledged, or nil
func (d *Device) Shown() *types.PixelMatrix {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.shown
}

// SyncTime sets the device clock
func (d *Device) SyncTime(ctx context.Context, t time.Time) types.TransferResult {
	return d.sup.Send(ctx, types.NewSyncTime(t))
}

// SetClockMode switches the panel to a clock face and then syncs the
// device clock to the host clock.
func (d *Device) SetClockMode(ctx context.Context, mode types.ClockMode) types.TransferResult {
	res := d.sup.Send(ctx, types.NewSetClockMode(mode))
	if !res.IsSuccess() {
		return res
	}
	d.mu.Lock()
	d.shown = nil
	d.mu.Unlock()

	if sync := d.SyncTime(ctx, time.Now()); !sync.IsSuccess() {
		d.logger.Warn("Device %s: Clock face set but time sync failed: %s", d.id, sync)
		return sync
	}
	return res
}

func (d *Device) panelSize() (w, h int) {
	d.mu.RLock()
	info, ok := d.info, d.haveInfo
	d.mu.RUnlock()
	if !ok {
		info = types.DefaultDeviceInfo()
	}
	return info.Width, info.Height
}

func rejected(reason string, err error) types.TransferResult {
	return types.TransferResult{
		ID:     uuid.New(),
		Status: types.StatusRejected,
		Reason: reason,
		Err:    err,
	}
}

// QueryDeviceInfo asks the device for its panel geometry and firmware
// version. When the device does not answer the defaults are cached and
// returned with Reported unset; the transfer result says why.
func (d *Device) QueryDeviceInfo(ctx context.Context) (types.DeviceInfo, types.TransferResult) {
	frame, res := d.sup.Request(ctx, types.NewQueryDeviceInfo(), codec.CodeDeviceInfo)

	info := types.DefaultDeviceInfo()
	if res.IsSuccess() {
		parsed, err := codec.ParseDeviceInfo(frame)
		if err == nil {
			info = parsed
		} else {
			d.logger.Warn("Device %s: Bad device info response: %v", d.id, err)
			res.Status, res.Reason, res.Err = types.StatusRejected, "bad device info", err
		}
	} else {
		d.logger.Warn("Device %s: Device info query failed (%s), assuming %dx%d", d.id, res, info.Width, info.Height)
	}

	d.mu.Lock()
	d.info, d.haveInfo = info, true
	d.mu.Unlock()

	return info, res
}

// DeviceInfo returns the cached device info. ok is false until
// QueryDeviceInfo has run.
func (d *Device) DeviceInfo() (info types.DeviceInfo, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.info, d.haveInfo
}

// PowerState returns the last acknowledged power state. ok is false until
// a SetPower succeeded.
func (d *Device) PowerState() (on bool, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.power, d.havePow
}

// State returns the link session state
func (d *Device) State() types.LinkState {
	return d.session.State()
}

// Status returns the supervisor status
func (d *Device) Status() supervisor.Status {
	return d.sup.Status()
}

// MTU returns the negotiated usable MTU
func (d *Device) MTU() int {
	return d.session.MTU()
}

// Statistics returns the session counters
func (d *Device) Statistics() *transport.Statistics {
	return d.session.Statistics()
}
