package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-mdraid/internal/config"
	"github.com/deploymenttheory/go-mdraid/internal/logging"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// newImage creates a zero-filled image file of the given size in blocks
func newImage(t *testing.T, dir, name string, blocks int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(blocks*types.BlockSize))
	require.NoError(t, f.Close())
	return path
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SuperblockRetryInterval = 0
	return cfg
}

func newTestService(t *testing.T) (*ServiceFactory, MDService) {
	t.Helper()
	factory := NewServiceFactory(testConfig(), WithLogger(logging.Discard()))
	svc, err := factory.MDService()
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Shutdown() })
	return factory, svc
}

func TestServiceFactory(t *testing.T) {
	factory := NewServiceFactory(nil, WithLogger(logging.Discard()))
	assert.False(t, factory.IsInitialized())
	assert.Nil(t, factory.Metrics())

	require.NoError(t, factory.Initialize())
	assert.True(t, factory.IsInitialized())
	assert.NotNil(t, factory.Metrics())
	assert.Empty(t, factory.MetricsAddr(), "metrics endpoint is off by default")

	svc, err := factory.MDService()
	require.NoError(t, err)
	assert.NotNil(t, svc)

	// Initializing twice keeps the same stack
	require.NoError(t, factory.Initialize())
	again, err := factory.MDService()
	require.NoError(t, err)
	assert.Same(t, svc, again)

	require.NoError(t, factory.Shutdown())
	assert.False(t, factory.IsInitialized())
	require.NoError(t, factory.Shutdown(), "shutdown of an idle factory is a no-op")
}

func TestServiceFactoryServesMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddr = "127.0.0.1:0"
	factory := NewServiceFactory(cfg, WithLogger(logging.Discard()))
	require.NoError(t, factory.Initialize())
	defer factory.Shutdown()

	addr := factory.MetricsAddr()
	require.NotEmpty(t, addr)

	factory.Metrics().SuperblockWrite(true)
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mdraid_superblock_writes_total")
}

func TestCreateStopAndReassemble(t *testing.T) {
	dir := t.TempDir()
	a := newImage(t, dir, "a.img", 1024)
	b := newImage(t, dir, "b.img", 1024)

	factory, svc := newTestService(t)
	status, err := svc.Create(context.Background(), CreateRequest{
		Minor:       0,
		Level:       types.LevelRaid1,
		RaidDevices: 2,
		Devices:     []string{a, b},
		AssumeClean: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "md0", status.Name)
	assert.Equal(t, types.ArrayRunning, status.State)
	assert.Equal(t, uint32(2), status.Active)
	assert.False(t, status.NeedsResync)
	assert.NotEmpty(t, status.UUID)
	require.Len(t, status.Members, 2)
	assert.Equal(t, a, status.Members[0].DevicePath)

	_, err = svc.Examine(a)
	assert.ErrorIs(t, err, types.ErrDeviceLocked, "members stay exclusively held while running")

	require.NoError(t, factory.Shutdown())

	_, svc = newTestService(t)
	info, err := svc.Examine(a)
	require.NoError(t, err)
	assert.True(t, info.ChecksumValid)
	assert.Equal(t, uint64(1024), info.SizeBlocks)
	assert.Equal(t, uint64(960), info.OffsetBlocks)
	assert.Equal(t, types.LevelRaid1, info.Superblock.Level)
	assert.True(t, info.Superblock.IsClean(), "a full stop marks the array clean")
	assert.Equal(t, uint32(0), info.Superblock.ThisDisk.Number)
	assert.Equal(t, status.UUID, info.Superblock.UUID().String())

	other, err := svc.Examine(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), other.Superblock.ThisDisk.Number)
	assert.Equal(t, info.Superblock.Events, other.Superblock.Events)

	started, err := svc.Assemble(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, types.ArrayRunning, started[0].State)
	assert.Equal(t, status.UUID, started[0].UUID)
	assert.Greater(t, started[0].Events, info.Superblock.Events)
	assert.Len(t, started[0].Members, 2)
	assert.Len(t, svc.Arrays(), 1)
}

func TestRebuildThroughService(t *testing.T) {
	dir := t.TempDir()
	a := newImage(t, dir, "a.img", 1024)
	b := newImage(t, dir, "b.img", 1024)
	c := newImage(t, dir, "c.img", 1024)

	pattern := bytes.Repeat([]byte{0xa5}, types.BlockSize)
	f, err := os.OpenFile(a, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(pattern, 10*types.BlockSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, svc := newTestService(t)
	_, err = svc.Create(context.Background(), CreateRequest{
		Level:       types.LevelRaid1,
		RaidDevices: 2,
		Devices:     []string{a, b},
		AssumeClean: true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetFaulty(0, b))
	status, err := svc.Array(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Active)

	require.NoError(t, svc.HotRemove(0, b))
	require.NoError(t, svc.HotAdd(0, c))
	require.NoError(t, svc.Resync(context.Background()))

	status, err = svc.Array(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), status.Active)
	assert.Equal(t, uint32(0), status.Spare)
	assert.False(t, status.Syncing)

	var paths []string
	for _, m := range status.Members {
		assert.False(t, m.Faulty)
		paths = append(paths, m.DevicePath)
	}
	assert.ElementsMatch(t, []string{a, c}, paths)

	data, err := os.ReadFile(c)
	require.NoError(t, err)
	assert.Equal(t, pattern, data[10*types.BlockSize:11*types.BlockSize], "rebuild copies the surviving mirror")
}

func TestCreateErrors(t *testing.T) {
	dir := t.TempDir()
	a := newImage(t, dir, "a.img", 1024)
	tiny := newImage(t, dir, "tiny.img", 32)

	tests := []struct {
		name    string
		req     CreateRequest
		wantErr error
	}{
		{
			name:    "more raid devices than paths",
			req:     CreateRequest{Level: types.LevelRaid1, RaidDevices: 2, Devices: []string{a}},
			wantErr: types.ErrInvalidArgument,
		},
		{
			name:    "device too small",
			req:     CreateRequest{Level: types.LevelRaid1, RaidDevices: 2, Devices: []string{a, tiny}},
			wantErr: types.ErrInvalidSize,
		},
		{
			name:    "unknown level",
			req:     CreateRequest{Level: 42, RaidDevices: 1, Devices: []string{a}},
			wantErr: types.ErrUnsupportedLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newTestService(t)
			_, err := svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, svc.Arrays(), "a failed create leaves no array behind")

			// The devices were released
			_, err = svc.Examine(a)
			assert.NotErrorIs(t, err, types.ErrDeviceLocked)
		})
	}
}

func TestCreateMissingPath(t *testing.T) {
	_, svc := newTestService(t)
	_, err := svc.Create(context.Background(), CreateRequest{
		Level:       types.LevelRaid1,
		RaidDevices: 1,
		Devices:     []string{filepath.Join(t.TempDir(), "missing.img")},
	})
	assert.Error(t, err)
}

func TestAssembleWithoutSuperblocks(t *testing.T) {
	dir := t.TempDir()
	blank := newImage(t, dir, "blank.img", 1024)

	_, svc := newTestService(t)
	started, err := svc.Assemble(context.Background(), []string{blank})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBadMagic)
	assert.Empty(t, started)
}

func TestExamineSmallDevice(t *testing.T) {
	tiny := newImage(t, t.TempDir(), "tiny.img", 100)
	_, svc := newTestService(t)
	_, err := svc.Examine(tiny)
	assert.ErrorIs(t, err, types.ErrNoSuperblock)
}

func TestStopReadOnlyThroughService(t *testing.T) {
	dir := t.TempDir()
	a := newImage(t, dir, "a.img", 1024)

	_, svc := newTestService(t)
	_, err := svc.Create(context.Background(), CreateRequest{
		Minor:       3,
		Level:       types.LevelLinear,
		RaidDevices: 1,
		Devices:     []string{a},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Stop(3, true))
	status, err := svc.Array(3)
	require.NoError(t, err)
	assert.Equal(t, types.ArrayReadOnly, status.State)

	require.NoError(t, svc.Stop(3, false))
	_, err = svc.Array(3)
	assert.ErrorIs(t, err, types.ErrArrayNotFound)

	assert.ErrorIs(t, svc.HotAdd(9, a), types.ErrArrayNotFound)
}
