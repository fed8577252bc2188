package app

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

func TestParseArrayTarget(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"md0", 0, false},
		{"/dev/md12", 12, false},
		{"7", 7, false},
		{" md3 ", 3, false},
		{"sda", 0, true},
		{"md-1", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			target, err := ParseArrayTarget(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var ce *CommonError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, ErrCodeInvalidInput, ce.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, target.Minor)
			assert.Equal(t, fmt.Sprintf("md%d", tt.want), target.String())
		})
	}
}

func TestProgressUpdate(t *testing.T) {
	p := ProgressUpdate{Completed: 250, Total: 1000, ElapsedTime: 5 * time.Second}
	assert.Equal(t, 25, p.Percent())
	assert.InDelta(t, 50.0, p.Rate(), 0.001)
	assert.Equal(t, 15*time.Second, p.ETA())

	empty := ProgressUpdate{}
	assert.Equal(t, 0, empty.Percent())
	assert.Equal(t, float64(0), empty.Rate())
	assert.Equal(t, time.Duration(0), empty.ETA())
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"array not found", types.UserError("lookup", types.ErrArrayNotFound), ErrCodeArrayNotFound},
		{"busy", types.UserError("stop", types.ErrBusy), ErrCodeBusy},
		{"locked device", fmt.Errorf("device x: %w", types.ErrDeviceLocked), ErrCodeBusy},
		{"not supported", types.UserError("hot_add", types.ErrNotSupported), ErrCodeNotImplemented},
		{"fatal", types.Fatal("run", types.ErrInvalidChunkSize), ErrCodeFatal},
		{"bug", types.Bug("hot_remove", types.ErrBug), ErrCodeInternal},
		{"user", types.UserError("add_disk", types.ErrInvalidSize), ErrCodeInvalidInput},
		{"transient", types.Transient("update", types.ErrIO), ErrCodeIO},
		{"bare io", types.ErrIO, ErrCodeIO},
		{"unclassified", errors.New("open failed"), ErrCodeDeviceAccess},
		{"already coded", NewError(ErrCodeTimeout, "slow", nil), ErrCodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestFromError(t *testing.T) {
	assert.NoError(t, FromError("x", nil))

	err := FromError("failed to stop md0", types.UserError("stop", types.ErrBusy))
	var ce *CommonError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeBusy, ce.Code)
	assert.ErrorIs(t, err, types.ErrBusy, "the cause stays reachable")
	assert.Contains(t, err.Error(), "failed to stop md0")

	coded := NewError(ErrCodeInvalidInput, "bad", nil)
	assert.Same(t, coded, FromError("other", coded))
}

func TestContextOutput(t *testing.T) {
	var errOut bytes.Buffer
	ctx := NewContext()
	ctx.ErrOut = &errOut

	ctx.Log("hidden %d", 1)
	ctx.Info("shown %d", 2)
	ctx.Verbose = true
	ctx.Log("verbose %d", 3)
	ctx.Error("broken")
	assert.Equal(t, "shown 2\nverbose 3\nError: broken\n", errOut.String())

	errOut.Reset()
	ctx.Quiet = true
	ctx.Info("quiet")
	ctx.Error("quiet")
	assert.Empty(t, errOut.String())

	var got []ProgressUpdate
	ctx.SetProgress(func(p ProgressUpdate) { got = append(got, p) })
	ctx.Progress(ProgressUpdate{Message: "md0", Completed: 1, Total: 2})
	require.Len(t, got, 1)
	assert.Equal(t, 50, got[0].Percent())

	timed, cancel := ctx.WithTimeout(time.Minute)
	defer cancel()
	_, ok := timed.Deadline()
	assert.True(t, ok)
	assert.Equal(t, ctx.OutputFormat, timed.OutputFormat)
}
