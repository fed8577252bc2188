package recovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-mdraid/internal/config"
	"github.com/deploymenttheory/go-mdraid/internal/device"
	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/array"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/mdtest"
	"github.com/deploymenttheory/go-mdraid/internal/metrics"
	"github.com/deploymenttheory/go-mdraid/internal/personality"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

const dataBytes = mdtest.DataBlocks * types.BlockSize

type fixture struct {
	opener  *device.MemoryOpener
	mgr     *array.Manager
	engine  *Engine
	clock   *clock.Mock
	metrics *metrics.Metrics
	hook    *logtest.Hook
}

func newFixture(t *testing.T, mirror interfaces.Personality, tune func(*config.Config)) *fixture {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opener := device.NewMemoryOpener()
	reg := registry.New(opener, log)

	cfg := config.Default()
	cfg.SuperblockRetryInterval = 0
	if tune != nil {
		tune(cfg)
	}
	pers := personality.NewDefaultRegistry()
	if mirror != nil {
		pers.Register(mirror)
	}
	mock := clock.NewMock()
	m := metrics.New()
	mgr := array.NewManager(reg, pers, array.Options{Config: cfg, Logger: log, Metrics: m, Clock: mock})
	engine := NewEngine(mgr, Options{Logger: log, Metrics: m, Clock: mock})
	return &fixture{opener: opener, mgr: mgr, engine: engine, clock: mock, metrics: m, hook: hook}
}

// mirror assembles a running raid1 at minor from devices ids
func (f *fixture) mirror(t *testing.T, minor int, ids []types.DeviceID, mutate func(*types.SuperblockImage)) *array.Array {
	t.Helper()
	sb := mdtest.Superblock(types.LevelRaid1, len(ids), ids)
	sb.MdMinor = uint32(minor)
	if mutate != nil {
		mutate(&sb)
	}
	for i, id := range ids {
		own := mdtest.Own(sb, i)
		mdtest.Attach(f.opener, id, mdtest.DeviceBytes, &own)
	}
	a, err := f.mgr.Create(minor)
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, a.AddDisk(types.DiskInfo{Device: id}))
	}
	require.NoError(t, a.Run(context.Background()))
	return a
}

func (f *fixture) logged(msg string) bool {
	for _, e := range f.hook.AllEntries() {
		if strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}

func pattern(seed byte) []byte {
	buf := make([]byte, dataBytes)
	for i := range buf {
		buf[i] = seed + byte(i%251)
	}
	return buf
}

func fill(t *testing.T, dev *device.MemoryDevice, data []byte) {
	t.Helper()
	_, err := dev.WriteAt(data, 0)
	require.NoError(t, err)
}

// degrade fails the second mirror of a and hot adds a blank spare
func (f *fixture) degrade(t *testing.T, a *array.Array, failed, spare types.DeviceID) *device.MemoryDevice {
	t.Helper()
	require.NoError(t, a.SetDiskFaulty(failed))
	dev := mdtest.Attach(f.opener, spare, mdtest.DeviceBytes, nil)
	require.NoError(t, a.HotAddDisk(spare))
	return dev
}

func runWithin(t *testing.T, d time.Duration, fn func() error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatalf("did not return within %s", d)
		return nil
	}
}

func TestFindSpare(t *testing.T) {
	ids := mdtest.IDs(4)
	sb := mdtest.Superblock(types.LevelRaid1, 2, ids)
	sb.Disks[2].State = types.DiskFaulty

	members := func(faulty ...int) []types.MemberInfo {
		out := make([]types.MemberInfo, len(ids))
		for i, id := range ids {
			out[i] = types.MemberInfo{Device: id, DescNr: i}
		}
		for _, i := range faulty {
			out[i].Faulty = true
		}
		return out
	}

	tests := []struct {
		name     string
		members  []types.MemberInfo
		wantSlot uint32
		wantOK   bool
	}{
		{"skips active and faulty slots", members(), 3, true},
		{"skips faulty members", members(3), 0, false},
		{"no members", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spare, ok := FindSpare(array.Snapshot{Superblock: sb, Members: tt.members})
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantSlot, spare.Number)
				assert.Equal(t, ids[3], spare.ID())
			}
		})
	}
}

func TestRecoveryRebuildsSpare(t *testing.T) {
	f := newFixture(t, nil, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, nil)
	data := pattern(7)
	fill(t, f.opener.Device(ids[0]), data)

	spareID := types.DeviceID{Major: 9, Minor: 16}
	spare := f.degrade(t, a, ids[1], spareID)

	require.NoError(t, f.engine.DoRecovery(context.Background()))

	sb := a.Superblock()
	assert.Equal(t, uint32(2), sb.ActiveDisks)
	assert.Equal(t, uint32(0), sb.SpareDisks)
	assert.Equal(t, spareID, sb.Disks[1].ID(), "spare takes over the failed role")
	assert.True(t, sb.Disks[1].IsActive() && sb.Disks[1].IsSync())
	assert.Equal(t, ids[1], sb.Disks[2].ID())
	assert.True(t, sb.Disks[2].IsFaulty())

	assert.True(t, bytes.Equal(data, spare.Bytes()[:dataBytes]), "spare must hold the mirrored data")
	ondisk, ok := mdtest.ReadSuperblock(spare)
	require.True(t, ok)
	assert.Equal(t, uint32(1), ondisk.ThisDisk.Number)
	assert.Equal(t, sb.Events, ondisk.Events)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RecoveryOutcomes.WithLabelValues("recovery", "completed")))
	assert.False(t, a.Snapshot().Syncing)
	assert.Contains(t, a.Status(), "[2/2] [UU]")
}

func TestDegradedScanWithoutSpareReturns(t *testing.T) {
	f := newFixture(t, nil, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, nil)
	require.NoError(t, a.SetDiskFaulty(ids[1]))

	err := runWithin(t, 5*time.Second, func() error {
		return f.engine.DoRecovery(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, types.ArrayRunning, a.State())
	assert.True(t, f.logged("continuing in degraded mode"))
}

func TestDoRecoveryCancelledStartsNoSync(t *testing.T) {
	f := newFixture(t, nil, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, nil)
	f.degrade(t, a, ids[1], types.DeviceID{Major: 9, Minor: 16})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runWithin(t, 5*time.Second, func() error {
		return f.engine.DoRecovery(ctx)
	})
	assert.ErrorIs(t, err, context.Canceled)

	sb := a.Superblock()
	assert.Equal(t, uint32(1), sb.ActiveDisks)
	assert.Equal(t, uint32(1), sb.SpareDisks, "spare is left for the next pass")
	assert.False(t, a.Snapshot().Syncing)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.RecoveryOutcomes.WithLabelValues("recovery", "completed")))
}

func TestSpareFailureMarksSpareFaulty(t *testing.T) {
	f := newFixture(t, nil, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, nil)
	spare := f.degrade(t, a, ids[1], types.DeviceID{Major: 9, Minor: 16})
	spare.FailWrites(1 << 20)

	err := runWithin(t, 5*time.Second, func() error {
		return f.engine.DoRecovery(context.Background())
	})
	require.NoError(t, err)

	sb := a.Superblock()
	assert.True(t, sb.Disks[2].IsFaulty())
	assert.Equal(t, uint32(0), sb.SpareDisks)
	assert.Equal(t, uint32(2), sb.FailedDisks)
	assert.Equal(t, uint32(1), sb.ActiveDisks)
	assert.Equal(t, types.ArrayRunning, a.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RecoveryOutcomes.WithLabelValues("recovery", "spare_failed")))
	assert.True(t, f.logged("continuing in degraded mode"), "next pass must find no usable spare")
}

func TestFullResyncAfterUncleanShutdown(t *testing.T) {
	f := newFixture(t, nil, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, func(sb *types.SuperblockImage) { sb.State = 0 })
	require.True(t, a.NeedsResync())
	data := pattern(3)
	fill(t, f.opener.Device(ids[0]), data)
	fill(t, f.opener.Device(ids[1]), pattern(99))

	require.NoError(t, f.engine.DoRecovery(context.Background()))
	assert.False(t, a.NeedsResync())
	assert.True(t, bytes.Equal(data, f.opener.Device(ids[1]).Bytes()[:dataBytes]))

	require.NoError(t, a.Stop(false))
	for _, id := range ids {
		sb, ok := mdtest.ReadSuperblock(f.opener.Device(id))
		require.True(t, ok)
		assert.True(t, sb.IsClean(), "completed resync allows a clean stop")
	}
}

// blockingMirror is a mirror whose resync runs until it is cancelled
type blockingMirror struct {
	*personality.Raid1
	started  chan struct{}
	once     sync.Once
	returned atomic.Bool
}

func newBlockingMirror() *blockingMirror {
	return &blockingMirror{Raid1: personality.NewRaid1(), started: make(chan struct{})}
}

func (b *blockingMirror) SyncRequest(ctx context.Context, a interfaces.ArrayHandle, position uint64) (uint64, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	b.returned.Store(true)
	return 0, fmt.Errorf("%w: %v", types.ErrInterrupted, ctx.Err())
}

func TestStopWaitsForResyncAndStaysUnclean(t *testing.T) {
	mirror := newBlockingMirror()
	f := newFixture(t, mirror, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, func(sb *types.SuperblockImage) { sb.State = 0 })

	recovered := make(chan error, 1)
	go func() { recovered <- f.engine.DoRecovery(context.Background()) }()
	select {
	case <-mirror.started:
	case <-time.After(5 * time.Second):
		t.Fatal("resync did not start")
	}

	require.NoError(t, a.Stop(false))
	assert.True(t, mirror.returned.Load(), "stop must wait for the resync loop to exit")
	assert.Equal(t, types.ArrayDestroyed, a.State())

	for _, id := range ids {
		sb, ok := mdtest.ReadSuperblock(f.opener.Device(id))
		require.True(t, ok)
		assert.False(t, sb.IsClean(), "interrupted resync must leave the array unclean")
	}

	select {
	case err := <-recovered:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("recovery pass did not finish")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RecoveryOutcomes.WithLabelValues("resync", "interrupted")))
}

func TestReadOnlyStopDuringResync(t *testing.T) {
	mirror := newBlockingMirror()
	f := newFixture(t, mirror, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, func(sb *types.SuperblockImage) { sb.State = 0 })

	recovered := make(chan error, 1)
	go func() { recovered <- f.engine.DoRecovery(context.Background()) }()
	<-mirror.started

	require.NoError(t, a.Stop(true))
	assert.Equal(t, types.ArrayReadOnly, a.State())
	require.NoError(t, <-recovered)
	assert.True(t, a.NeedsResync(), "interrupted resync stays pending")
	assert.False(t, a.Snapshot().Syncing)
}

func TestSerializeWaitsForSharedUnit(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.mirror(t, 0, []types.DeviceID{{Major: 8, Minor: 16}, {Major: 8, Minor: 32}}, nil)
	second := f.mirror(t, 1, []types.DeviceID{{Major: 8, Minor: 17}, {Major: 8, Minor: 33}}, func(sb *types.SuperblockImage) {
		sb.SetUUID[0]++
	})
	other := f.mirror(t, 2, []types.DeviceID{{Major: 9, Minor: 16}, {Major: 9, Minor: 32}}, func(sb *types.SuperblockImage) {
		sb.SetUUID[1]++
	})

	first.SetResyncProgress(100, 0)

	// unrelated units are not delayed
	require.NoError(t, f.engine.serialize(context.Background(), other))
	assert.Equal(t, uint64(1), other.Snapshot().Cursor)

	done := make(chan error, 1)
	go func() { done <- f.engine.serialize(context.Background(), second) }()

	require.Eventually(t, func() bool { return f.logged("delaying resync") }, 5*time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("serialize returned while a shared unit was syncing")
	default:
	}
	assert.Equal(t, uint64(0), second.Snapshot().Cursor)

	first.SetResyncProgress(0, 0)
	var syncErr error
	require.Eventually(t, func() bool {
		f.clock.Add(f.engine.cfg.SerializePollInterval)
		select {
		case syncErr = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, syncErr)
	assert.Equal(t, uint64(1), second.Snapshot().Cursor)
}

func TestSerializeInterrupted(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.mirror(t, 0, []types.DeviceID{{Major: 8, Minor: 16}}, nil)
	second := f.mirror(t, 1, []types.DeviceID{{Major: 8, Minor: 17}}, func(sb *types.SuperblockImage) {
		sb.SetUUID[0]++
	})
	first.SetResyncProgress(5, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.engine.serialize(ctx, second)
	assert.ErrorIs(t, err, types.ErrInterrupted)
}

func TestSpeedWindow(t *testing.T) {
	start := time.Unix(1700000000, 0)
	w := newSpeedWindow(3, time.Second, start)

	// no time elapsed: everything counts as one second
	assert.Equal(t, uint64(101), w.speed(start, 100))

	w.observe(start.Add(500*time.Millisecond), 50)
	assert.Equal(t, 0, w.last, "checkpoints are at least one step apart")

	w.observe(start.Add(time.Second), 100)
	w.observe(start.Add(2*time.Second), 300)
	// oldest checkpoint is still the start
	assert.Equal(t, uint64(300/3+1), w.speed(start.Add(2*time.Second), 300))

	w.observe(start.Add(3*time.Second), 600)
	// window slid: oldest is the mark at 1s with 100 blocks
	assert.Equal(t, uint64(500/3+1), w.speed(start.Add(3*time.Second), 600))
}

// busyMirror reports foreground I/O for its first few idle checks
type busyMirror struct {
	*personality.Raid1
	busy   atomic.Int32
	checks atomic.Int32
}

func (b *busyMirror) IsIdle(a interfaces.ArrayHandle) bool {
	b.checks.Add(1)
	return b.busy.Add(-1) < 0
}

func TestSyncYieldsToForegroundIO(t *testing.T) {
	mirror := &busyMirror{Raid1: personality.NewRaid1()}
	mirror.busy.Store(3)
	f := newFixture(t, mirror, func(cfg *config.Config) { cfg.SpeedLimitMin = 0 })
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, func(sb *types.SuperblockImage) { sb.State = 0 })
	start := f.clock.Now()

	done := make(chan error, 1)
	go func() { done <- f.engine.DoRecovery(context.Background()) }()
	var syncErr error
	require.Eventually(t, func() bool {
		f.clock.Add(f.engine.cfg.ThrottleInterval)
		select {
		case syncErr = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, syncErr)

	assert.False(t, a.NeedsResync())
	assert.GreaterOrEqual(t, mirror.checks.Load(), int32(4))
	assert.True(t, f.clock.Now().After(start), "busy members must delay the resync")
}

func TestSyncThrottlesToMaximumSpeed(t *testing.T) {
	f := newFixture(t, nil, func(cfg *config.Config) {
		cfg.SpeedLimitMin = 1
		cfg.SpeedLimitMax = 200
	})
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, func(sb *types.SuperblockImage) { sb.State = 0 })
	start := f.clock.Now()

	done := make(chan error, 1)
	go func() { done <- f.engine.DoRecovery(context.Background()) }()
	var syncErr error
	require.Eventually(t, func() bool {
		f.clock.Add(f.engine.cfg.ThrottleInterval)
		select {
		case syncErr = <-done:
			return true
		default:
			return false
		}
	}, 10*time.Second, time.Millisecond)
	require.NoError(t, syncErr)

	assert.False(t, a.NeedsResync())
	elapsed := f.clock.Now().Sub(start)
	// 960 blocks at no more than 200 KiB/s
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
}

func TestRunWakesOnHotAdd(t *testing.T) {
	f := newFixture(t, nil, nil)
	ids := mdtest.IDs(2)
	a := f.mirror(t, 0, ids, nil)
	require.NoError(t, a.SetDiskFaulty(ids[1]))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- f.engine.Run(ctx) }()

	mdtest.Attach(f.opener, types.DeviceID{Major: 9, Minor: 16}, mdtest.DeviceBytes, nil)
	require.NoError(t, a.HotAddDisk(types.DeviceID{Major: 9, Minor: 16}))

	require.Eventually(t, func() bool {
		return a.Superblock().ActiveDisks == 2
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
