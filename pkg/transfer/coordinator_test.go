package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/retry"
	"avaneesh/ipixel-go/pkg/simulator"
	"avaneesh/ipixel-go/pkg/types"
)

const simAddress = "sim-0"

type fixture struct {
	session *link.Session
	device  *simulator.Device
	coord   *Coordinator
}

func newFixture(t *testing.T, devCfg simulator.Config, mutate func(*link.SessionConfig, *Config)) *fixture {
	t.Helper()

	dev := simulator.NewDevice(devCfg, nil)
	dialer := simulator.NewDialer()
	dialer.Register(simAddress, dev)

	sessCfg := link.DefaultSessionConfig()
	sessCfg.AckTimeout = 100 * time.Millisecond
	cfg := DefaultConfig()
	cfg.Retry.Base = time.Millisecond
	cfg.Retry.Cap = 5 * time.Millisecond
	if mutate != nil {
		mutate(&sessCfg, &cfg)
	}

	s := link.NewSession(dialer, codec.New(devCfg.Variant), sessCfg, nil)
	require.NoError(t, s.Connect(context.Background(), simAddress))
	t.Cleanup(s.Disconnect)

	return &fixture{session: s, device: dev, coord: NewCoordinator(cfg, nil)}
}

func checker(t *testing.T, w, h int) *types.PixelMatrix {
	t.Helper()
	px := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px[y*w+x] = uint8((x + y) % 2)
		}
	}
	m, err := types.NewPixelMatrix(w, h, types.BiLevel, px)
	require.NoError(t, err)
	return m
}

func withMTU(mtu int) simulator.Config {
	cfg := simulator.DefaultConfig()
	cfg.MTU = mtu
	return cfg
}

func TestSendBrightnessSingleChunk(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)

	res := f.coord.Send(context.Background(), types.NewSetBrightness(50), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 1, res.TotalChunks)
	assert.Equal(t, 1, res.ChunksSent)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []uint16{0}, f.device.Received())
	assert.Equal(t, uint8(50), f.device.Brightness())
	assert.Equal(t, types.LinkReady, f.session.State())
}

func TestSendBitmap32x8(t *testing.T) {
	// 24 byte MTU leaves 20 bytes per chunk: 20 + 20 + 3
	f := newFixture(t, withMTU(24), nil)
	m := checker(t, 32, 8)

	var progress []Progress
	f.coord.config.OnProgress = func(p Progress) { progress = append(progress, p) }

	res := f.coord.Send(context.Background(), types.NewDisplayBitmap(m), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 3, res.TotalChunks)
	assert.Equal(t, []uint16{0, 1, 2}, f.device.Received())
	require.NotNil(t, f.device.Matrix())
	assert.True(t, m.Equal(f.device.Matrix()))

	require.Len(t, progress, 3)
	for i, p := range progress {
		assert.Equal(t, res.ID, p.ID)
		assert.Equal(t, i+1, p.Sent)
		assert.Equal(t, 3, p.Total)
	}
}

func TestSendLegacyVariantWithoutFrameAck(t *testing.T) {
	cfg := simulator.DefaultConfig()
	cfg.Variant = codec.VariantLegacyXOR
	f := newFixture(t, cfg, nil)

	res := f.coord.Send(context.Background(), types.NewSetPower(true), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.True(t, f.device.Power())
}

func TestRetryBound(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)
	f.device.InjectFaults(simulator.Faults{DropAcks: 100})

	res := f.coord.Send(context.Background(), types.NewSetBrightness(10), f.session)

	assert.Equal(t, types.StatusTimeout, res.Status)
	assert.Equal(t, retry.DefaultMaxAttempts, res.Attempts)
	assert.Equal(t, 0, res.ChunksSent)
	assert.Len(t, f.device.Received(), retry.DefaultMaxAttempts)
	assert.Equal(t, uint64(retry.DefaultMaxAttempts-1), f.session.Statistics().GetRetries())
	assert.Equal(t, types.LinkReady, f.session.State())
}

func TestRetryRecoversFromLostAck(t *testing.T) {
	f := newFixture(t, withMTU(24), nil)
	f.device.InjectFaults(simulator.Faults{DropAcks: 1})

	res := f.coord.Send(context.Background(), types.NewDisplayBitmap(checker(t, 32, 8)), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 4, res.Attempts)
	// The repeated chunk is re-acknowledged, not applied twice
	assert.Equal(t, []uint16{0, 0, 1, 2}, f.device.Received())
	assert.Equal(t, 1, f.device.FramesApplied())
}

func TestRetryAfterLostFinalAck(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)
	f.device.InjectFaults(simulator.Faults{DropAcks: 1})

	res := f.coord.Send(context.Background(), types.NewSetBrightness(77), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, f.device.FramesApplied())
}

func TestRetrySucceedsOnLastAttempt(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)
	f.device.InjectFaults(simulator.Faults{DropAcks: retry.DefaultMaxAttempts - 1})

	res := f.coord.Send(context.Background(), types.NewSetBrightness(33), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, retry.DefaultMaxAttempts, res.Attempts)
	assert.Equal(t, 1, res.ChunksSent)
	assert.Equal(t, 1, f.device.FramesApplied())
	assert.Equal(t, uint8(33), f.device.Brightness())
}

func TestSameCommandTwiceIsAppliedTwice(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)

	for i := 0; i < 2; i++ {
		res := f.coord.Send(context.Background(), types.NewSetPower(true), f.session)
		require.True(t, res.IsSuccess(), res.String())
	}
	assert.Equal(t, 2, f.device.FramesApplied())
}

// resizingSession reports a different chunk size once the lock is held,
// as after a reconnect that renegotiated the MTU
type resizingSession struct {
	*link.Session
	locked bool
}

func (s *resizingSession) Acquire(ctx context.Context) error {
	if err := s.Session.Acquire(ctx); err != nil {
		return err
	}
	s.locked = true
	return nil
}

func (s *resizingSession) MaxChunkPayload() int {
	if !s.locked {
		return 100
	}
	return s.Session.MaxChunkPayload()
}

func TestChunkSizeReadAfterLock(t *testing.T) {
	f := newFixture(t, withMTU(24), nil)
	s := &resizingSession{Session: f.session}

	res := f.coord.Send(context.Background(), types.NewDisplayBitmap(checker(t, 32, 8)), s)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 3, res.TotalChunks)
	assert.Equal(t, []uint16{0, 1, 2}, f.device.Received())
}

func TestMalformedAckIsRetried(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)
	f.device.InjectFaults(simulator.Faults{CorruptNextAck: 1})

	res := f.coord.Send(context.Background(), types.NewSetPower(true), f.session)

	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 2, res.Attempts)
}

func TestRejectedChunk(t *testing.T) {
	t.Run("retried", func(t *testing.T) {
		f := newFixture(t, simulator.DefaultConfig(), nil)
		f.device.InjectFaults(simulator.Faults{RejectNext: 1})

		res := f.coord.Send(context.Background(), types.NewSetBrightness(20), f.session)

		require.True(t, res.IsSuccess(), res.String())
		assert.Equal(t, 2, res.Attempts)
	})

	t.Run("exhausted", func(t *testing.T) {
		f := newFixture(t, simulator.DefaultConfig(), nil)
		f.device.InjectFaults(simulator.Faults{RejectNext: 10})

		res := f.coord.Send(context.Background(), types.NewSetBrightness(20), f.session)

		assert.Equal(t, types.StatusRejected, res.Status)
		assert.Equal(t, codec.AckBusy.String(), res.Reason)
		assert.True(t, link.IsRejected(res.Err))
		assert.Equal(t, retry.DefaultMaxAttempts, res.Attempts)
	})
}

func TestWriteWithResponseMode(t *testing.T) {
	f := newFixture(t, withMTU(24), func(s *link.SessionConfig, _ *Config) {
		s.Ack = link.WriteCompletionAck{}
	})

	res := f.coord.Send(context.Background(), types.NewDisplayBitmap(checker(t, 32, 8)), f.session)
	require.True(t, res.IsSuccess(), res.String())

	f.device.InjectFaults(simulator.Faults{RejectNext: 10})
	res = f.coord.Send(context.Background(), types.NewSetBrightness(5), f.session)
	assert.Equal(t, types.StatusRejected, res.Status)
}

func TestLinkLostMidTransfer(t *testing.T) {
	// 13 byte MTU leaves 9 bytes per chunk: a 43 byte frame needs 5 chunks
	f := newFixture(t, withMTU(13), nil)
	m := checker(t, 32, 8)
	f.device.InjectFaults(simulator.Faults{DisconnectAfter: 2})

	res := f.coord.Send(context.Background(), types.NewDisplayBitmap(m), f.session)

	assert.Equal(t, types.StatusLinkLost, res.Status)
	assert.Equal(t, 5, res.TotalChunks)
	assert.Equal(t, 2, res.ChunksSent)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, link.IsLinkLost(res.Err))
	assert.Equal(t, types.LinkFaulted, f.session.State())
	assert.Nil(t, f.device.Matrix())

	// A resend after reconnecting starts again from the first chunk
	require.NoError(t, f.session.Connect(context.Background(), simAddress))
	f.device.ResetHistory()

	res = f.coord.Send(context.Background(), types.NewDisplayBitmap(m), f.session)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, []uint16{0, 1, 2, 3, 4}, f.device.Received())
	assert.True(t, m.Equal(f.device.Matrix()))
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	f := newFixture(t, withMTU(13), nil)
	m := checker(t, 32, 8)

	var wg sync.WaitGroup
	results := make([]types.TransferResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coord.Send(context.Background(), types.NewDisplayBitmap(m), f.session)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.True(t, res.IsSuccess(), res.String())
	}

	got := f.device.Received()
	require.Len(t, got, 20)
	for i, idx := range got {
		assert.Equal(t, uint16(i%5), idx, "write %d", i)
	}
	assert.Equal(t, uint64(0), f.device.Statistics().GetSequenceErrors())
}

func TestCancelledBetweenAttempts(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), func(_ *link.SessionConfig, c *Config) {
		c.Retry.MaxAttempts = 10
		c.Retry.Base = 200 * time.Millisecond
		c.Retry.Cap = time.Second
	})
	f.device.InjectFaults(simulator.Faults{DropAcks: 100})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res := f.coord.Send(ctx, types.NewSetBrightness(30), f.session)

	assert.Equal(t, types.StatusCancelled, res.Status)
	// The in-flight attempt ran to its ack timeout
	assert.Equal(t, 1, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, types.LinkReady, f.session.State())
}

func TestTransferDeadline(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), func(_ *link.SessionConfig, c *Config) {
		c.Retry.MaxAttempts = 50
		c.TransferDeadline = 250 * time.Millisecond
	})
	f.device.InjectFaults(simulator.Faults{DropAcks: 1000})

	start := time.Now()
	res := f.coord.Send(context.Background(), types.NewSetBrightness(30), f.session)

	assert.Equal(t, types.StatusTimeout, res.Status)
	assert.Less(t, res.Attempts, 50)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMissingFrameAck(t *testing.T) {
	f := newFixture(t, simulator.DefaultConfig(), nil)
	f.device.InjectFaults(simulator.Faults{NoFrameAck: true})

	res := f.coord.Send(context.Background(), types.NewSetPower(false), f.session)

	assert.Equal(t, types.StatusTimeout, res.Status)
	assert.Equal(t, 1, res.ChunksSent)
}

func TestRejectedBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		cmd  types.Command
	}{
		{"brightness zero", types.NewSetBrightness(0)},
		{"brightness too high", types.NewSetBrightness(101)},
		{"nil matrix", types.NewDisplayBitmap(nil)},
	}

	f := newFixture(t, simulator.DefaultConfig(), nil)
	big, err := types.NewBlankMatrix(256, 8, types.BiLevel)
	require.NoError(t, err)
	tests = append(tests, struct {
		name string
		cmd  types.Command
	}{"matrix exceeds variant", types.NewDisplayBitmap(big)})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.coord.Send(context.Background(), tt.cmd, f.session)
			assert.Equal(t, types.StatusRejected, res.Status)
			assert.Equal(t, "encode", res.Reason)
			assert.Zero(t, res.Attempts)
		})
	}
	assert.Empty(t, f.device.Received())
}

func TestSendWithoutConnection(t *testing.T) {
	s := link.NewSession(simulator.NewDialer(), codec.New(codec.VariantStandard), link.DefaultSessionConfig(), nil)
	c := NewCoordinator(DefaultConfig(), nil)

	res := c.Send(context.Background(), types.NewSetPower(true), s)

	assert.Equal(t, types.StatusLinkLost, res.Status)
	assert.ErrorIs(t, res.Err, link.ErrNotReady)
}

func TestRequestDeviceInfo(t *testing.T) {
	cfg := simulator.DefaultConfig()
	cfg.Info.Width, cfg.Info.Height = 96, 16
	f := newFixture(t, cfg, nil)

	frame, res := f.coord.Request(context.Background(), types.NewQueryDeviceInfo(), f.session, codec.CodeDeviceInfo)

	require.True(t, res.IsSuccess(), res.String())
	require.NotNil(t, frame)
	info, err := codec.ParseDeviceInfo(frame)
	require.NoError(t, err)
	assert.Equal(t, 96, info.Width)
	assert.Equal(t, 16, info.Height)
	assert.Equal(t, "1.4", info.MCUVersion)
}
