// Package array implements the MD array object and its lifecycle: creation,
// assembly, run and stop transitions, hot add and remove of members, and
// superblock write-back.
package array

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Array is one logical MD device.
//
// mu serializes lifecycle operations and superblock updates. infoMu guards the
// fields read by status queries and by the personality through the
// ArrayHandle methods; writers hold both. The personality is always called
// without infoMu held.
type Array struct {
	minor int
	name  string
	mgr   *Manager
	log   logrus.FieldLogger

	mu sync.Mutex

	infoMu   sync.RWMutex
	sb       *types.SuperblockImage
	rdevs    []*registry.Rdev
	state    types.ArrayState
	pers     interfaces.Personality
	capacity uint64

	// needsResync marks an unclean redundant array awaiting a full resync
	needsResync bool
	// holdWrites suppresses automatic superblock writes after assembly
	// removed a descriptor for an unavailable device
	holdWrites bool

	openCount   int
	writeMounts int

	runCtx    context.Context
	runCancel context.CancelFunc

	// resync bookkeeping
	syncSem    *semaphore.Weighted
	syncing    bool
	syncTarget *types.DiskDescriptor
	syncCancel context.CancelFunc
	cursor     uint64
	speed      uint64
}

func newArray(mgr *Manager, minor int) *Array {
	name := fmt.Sprintf("md%d", minor)
	return &Array{
		minor:   minor,
		name:    name,
		mgr:     mgr,
		log:     mgr.log.WithField("array", name),
		state:   types.ArrayUnassembled,
		syncSem: semaphore.NewWeighted(1),
	}
}

// Minor implements interfaces.ArrayHandle
func (a *Array) Minor() int { return a.minor }

// Name returns the conventional device name, e.g. md0
func (a *Array) Name() string { return a.name }

// Superblock implements interfaces.ArrayHandle. It returns the zero image
// when the array has no superblock yet.
func (a *Array) Superblock() types.SuperblockImage {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	if a.sb == nil {
		return types.SuperblockImage{}
	}
	return *a.sb
}

// HasSuperblock reports whether a merged superblock is installed
func (a *Array) HasSuperblock() bool {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.sb != nil
}

// Members implements interfaces.ArrayHandle
func (a *Array) Members() []types.MemberInfo {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.membersLocked()
}

func (a *Array) membersLocked() []types.MemberInfo {
	out := make([]types.MemberInfo, 0, len(a.rdevs))
	for _, rdev := range a.rdevs {
		out = append(out, rdev.MemberInfo())
	}
	return out
}

// MemberDevice implements interfaces.ArrayHandle
func (a *Array) MemberDevice(descNr int) (interfaces.BlockDevice, bool) {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	for _, rdev := range a.rdevs {
		if rdev.DescNr == descNr && !rdev.Faulty {
			return rdev.Device(), true
		}
	}
	return nil, false
}

// State returns the lifecycle state
func (a *Array) State() types.ArrayState {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.state
}

// Capacity returns the logical size in blocks of a running array
func (a *Array) Capacity() uint64 {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.capacity
}

// Personality returns the active personality, or nil
func (a *Array) Personality() interfaces.Personality {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.pers
}

// NeedsResync reports whether a full resync is pending
func (a *Array) NeedsResync() bool {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.needsResync
}

// WritesHeld reports whether automatic superblock writes are suspended
func (a *Array) WritesHeld() bool {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	return a.holdWrites
}

// Devices returns the ids of the bound members in bind order
func (a *Array) Devices() []types.DeviceID {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	out := make([]types.DeviceID, 0, len(a.rdevs))
	for _, rdev := range a.rdevs {
		out = append(out, rdev.ID)
	}
	return out
}

// ArrayInfo returns the array-wide superblock fields
func (a *Array) ArrayInfo() (types.ArrayInfo, error) {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	if a.sb == nil {
		return types.ArrayInfo{}, types.UserError("get_array_info", types.ErrNoArraySuperblock)
	}
	return types.ArrayInfoFrom(*a.sb), nil
}

// DiskInfo returns descriptor slot number
func (a *Array) DiskInfo(number int) (types.DiskInfo, error) {
	a.infoMu.RLock()
	defer a.infoMu.RUnlock()
	if a.sb == nil {
		return types.DiskInfo{}, types.UserError("get_disk_info", types.ErrNoArraySuperblock)
	}
	if number < 0 || number >= types.MDSbDisks {
		return types.DiskInfo{}, types.UserError("get_disk_info", fmt.Errorf("%w: slot %d", types.ErrInvalidArgument, number))
	}
	return types.DiskInfoFrom(a.sb.Disks[number]), nil
}

func (a *Array) findRdevLocked(id types.DeviceID) *registry.Rdev {
	for _, rdev := range a.rdevs {
		if rdev.ID == id {
			return rdev
		}
	}
	return nil
}

func (a *Array) setStateLocked(state types.ArrayState) {
	a.state = state
	a.mgr.metrics.SetArrayState(a.name, state.String())
}
