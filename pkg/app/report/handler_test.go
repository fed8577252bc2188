package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-mdraid/internal/types"
	"github.com/deploymenttheory/go-mdraid/pkg/app"
	"github.com/deploymenttheory/go-mdraid/pkg/services"
)

// fakeService records calls and serves canned results
type fakeService struct {
	mu    sync.Mutex
	calls []string

	examine     map[string]*services.SuperblockInfo
	created     services.CreateRequest
	createErr   error
	started     []services.ArrayStatus
	assembleErr error
	arrays      map[int]services.ArrayStatus
	opErr       map[string]error

	// resync blocks until release is closed when set
	release   chan struct{}
	resyncErr error
}

func newFakeService() *fakeService {
	return &fakeService{
		examine: make(map[string]*services.SuperblockInfo),
		arrays:  make(map[int]services.ArrayStatus),
		opErr:   make(map[string]error),
	}
}

func (f *fakeService) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeService) Examine(path string) (*services.SuperblockInfo, error) {
	f.record("examine %s", path)
	if info, ok := f.examine[path]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("device %s: %w", path, types.ErrBadMagic)
}

func (f *fakeService) Create(ctx context.Context, req services.CreateRequest) (*services.ArrayStatus, error) {
	f.record("create md%d", req.Minor)
	f.created = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	st := services.ArrayStatus{Minor: req.Minor, Name: fmt.Sprintf("md%d", req.Minor), State: types.ArrayRunning, Level: req.Level}
	f.arrays[req.Minor] = st
	return &st, nil
}

func (f *fakeService) Assemble(ctx context.Context, paths []string) ([]services.ArrayStatus, error) {
	f.record("assemble %d", len(paths))
	return f.started, f.assembleErr
}

func (f *fakeService) op(verb string, minor int, path string) error {
	f.record("%s md%d %s", verb, minor, path)
	return f.opErr[path]
}

func (f *fakeService) HotAdd(minor int, path string) error    { return f.op("add", minor, path) }
func (f *fakeService) HotRemove(minor int, path string) error { return f.op("remove", minor, path) }
func (f *fakeService) SetFaulty(minor int, path string) error { return f.op("fail", minor, path) }

func (f *fakeService) Resync(ctx context.Context) error {
	f.record("resync")
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.resyncErr
}

func (f *fakeService) Stop(minor int, readOnly bool) error {
	f.record("stop md%d", minor)
	return nil
}

func (f *fakeService) Array(minor int) (*services.ArrayStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.arrays[minor]
	if !ok {
		return nil, types.UserError("lookup", fmt.Errorf("%w: md%d", types.ErrArrayNotFound, minor))
	}
	return &st, nil
}

func (f *fakeService) Arrays() []services.ArrayStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []services.ArrayStatus
	for i := 0; i < 256; i++ {
		if st, ok := f.arrays[i]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (f *fakeService) Close() error { return nil }

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestContext() (*app.Context, *bytes.Buffer) {
	var errOut bytes.Buffer
	ctx := app.NewContext()
	ctx.ErrOut = &errOut
	ctx.Out = &bytes.Buffer{}
	return ctx, &errOut
}

func TestHandleExamine(t *testing.T) {
	svc := newFakeService()
	svc.examine["/dev/sdb1"] = &services.SuperblockInfo{
		DevicePath:    "/dev/sdb1",
		Superblock:    testSuperblock(),
		ChecksumValid: true,
	}
	h := NewHandler(svc)
	ctx, _ := newTestContext()

	resp, err := h.Examine(ctx, &ExamineRequest{Devices: []string{"/dev/sdb1", "/dev/sdc1"}})
	require.NoError(t, err)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "raid1", resp.Devices[0].Level)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "/dev/sdc1", resp.Errors[0].Device)

	_, err = h.Examine(ctx, &ExamineRequest{Devices: []string{"/dev/sdc1"}})
	var ce *app.CommonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeDeviceAccess, ce.Code)

	_, err = h.Examine(ctx, &ExamineRequest{})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeInvalidInput, ce.Code)
}

func TestHandleCreate(t *testing.T) {
	svc := newFakeService()
	h := NewHandler(svc)
	ctx, _ := newTestContext()

	resp, err := h.Create(ctx, &CreateRequest{
		Array:        "md2",
		Level:        "mirror",
		SpareDevices: 1,
		Devices:      []string{"a", "b", "c"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Arrays, 1)
	assert.Equal(t, "md2", resp.Arrays[0].Name)
	assert.Equal(t, "running", resp.Arrays[0].State)

	assert.Equal(t, 2, svc.created.Minor)
	assert.Equal(t, types.LevelRaid1, svc.created.Level)
	assert.Equal(t, 2, svc.created.RaidDevices)
	assert.Equal(t, []string{"create md2"}, svc.Calls())
}

func TestHandleCreateMapsErrors(t *testing.T) {
	svc := newFakeService()
	svc.createErr = types.Fatal("run", fmt.Errorf("%w: raid5", types.ErrUnsupportedLevel))
	h := NewHandler(svc)
	ctx, _ := newTestContext()

	_, err := h.Create(ctx, &CreateRequest{Array: "md0", Level: "raid1", Devices: []string{"a"}})
	var ce *app.CommonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeFatal, ce.Code)
	assert.ErrorIs(t, err, types.ErrUnsupportedLevel)

	_, err = h.Create(ctx, &CreateRequest{Array: "md0", Level: "raid9", Devices: []string{"a"}})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeInvalidInput, ce.Code)
}

func TestHandleAssemble(t *testing.T) {
	tests := []struct {
		name      string
		started   []services.ArrayStatus
		err       error
		wantErr   bool
		wantCount int
		wantWarn  bool
	}{
		{
			name:      "all devices used",
			started:   []services.ArrayStatus{{Minor: 0, Name: "md0", State: types.ArrayRunning}},
			wantCount: 1,
		},
		{
			name:      "partial failure still reports",
			started:   []services.ArrayStatus{{Minor: 0, Name: "md0", State: types.ArrayRunning}},
			err:       errors.New("failed to import /dev/sdz"),
			wantCount: 1,
			wantWarn:  true,
		},
		{
			name:    "nothing started",
			err:     types.UserError("assemble", types.ErrNoDevices),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.started = tt.started
			svc.assembleErr = tt.err
			for _, st := range tt.started {
				svc.arrays[st.Minor] = st
			}
			h := NewHandler(svc)
			ctx, errOut := newTestContext()

			resp, err := h.Assemble(ctx, &AssembleRequest{Devices: []string{"/dev/sdb1", "/dev/sdc1"}})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp.Arrays, tt.wantCount)
			if tt.wantWarn {
				assert.Contains(t, errOut.String(), "/dev/sdz")
			}
		})
	}
}

func TestHandleManageOrder(t *testing.T) {
	svc := newFakeService()
	svc.arrays[1] = services.ArrayStatus{Minor: 1, Name: "md1", State: types.ArrayRunning}
	h := NewHandler(svc)
	ctx, _ := newTestContext()

	_, err := h.Manage(ctx, &ManageRequest{
		Array:   "/dev/md1",
		Devices: []string{"a", "b"},
		Add:     []string{"c"},
		Remove:  []string{"b"},
		Fail:    []string{"b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"assemble 2",
		"fail md1 b",
		"remove md1 b",
		"add md1 c",
	}, svc.Calls())
}

func TestHandleManageErrors(t *testing.T) {
	t.Run("array did not assemble", func(t *testing.T) {
		svc := newFakeService()
		h := NewHandler(svc)
		ctx, _ := newTestContext()
		_, err := h.Manage(ctx, &ManageRequest{Array: "md4", Devices: []string{"a"}, Add: []string{"c"}})
		var ce *app.CommonError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, app.ErrCodeArrayNotFound, ce.Code)
	})

	t.Run("operation refused", func(t *testing.T) {
		svc := newFakeService()
		svc.arrays[0] = services.ArrayStatus{Minor: 0, Name: "md0"}
		svc.opErr["a"] = types.UserError("hot_remove", types.ErrBusy)
		h := NewHandler(svc)
		ctx, _ := newTestContext()
		_, err := h.Manage(ctx, &ManageRequest{Array: "md0", Devices: []string{"a", "b"}, Remove: []string{"a"}, Add: []string{"c"}})
		var ce *app.CommonError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, app.ErrCodeBusy, ce.Code)
		assert.NotContains(t, svc.Calls(), "add md0 c", "later operations are skipped")
	})
}

func TestResyncReportsProgress(t *testing.T) {
	svc := newFakeService()
	svc.arrays[0] = services.ArrayStatus{Minor: 0, Name: "md0", State: types.ArrayRunning, Syncing: true, Cursor: 240, SizeBlocks: 960}
	svc.release = make(chan struct{})
	h := NewHandler(svc)
	h.pollInterval = time.Millisecond

	ctx, _ := newTestContext()
	var once sync.Once
	var got app.ProgressUpdate
	ctx.SetProgress(func(p app.ProgressUpdate) {
		once.Do(func() {
			got = p
			close(svc.release)
		})
	})

	resp, err := h.Assemble(ctx, &AssembleRequest{Devices: []string{"a"}, Resync: true})
	require.NoError(t, err)
	require.Len(t, resp.Arrays, 1)
	assert.Equal(t, "md0", got.Message)
	assert.Equal(t, 25, got.Percent())
	assert.Contains(t, svc.Calls(), "resync")
}

func TestResyncFailureIsCoded(t *testing.T) {
	svc := newFakeService()
	svc.resyncErr = types.Transient("update_superblock", types.ErrIO)
	svc.arrays[0] = services.ArrayStatus{Minor: 0, Name: "md0"}
	h := NewHandler(svc)
	ctx, _ := newTestContext()

	_, err := h.Create(ctx, &CreateRequest{Array: "md0", Level: "raid1", Devices: []string{"a", "b"}, Resync: true})
	var ce *app.CommonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, app.ErrCodeIO, ce.Code)
}
