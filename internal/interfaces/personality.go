// File: internal/interfaces/personality.go
package interfaces

import (
	"context"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// DiskOp is a descriptor-level operation requested from a personality
type DiskOp int

const (
	DiskOpHotAdd DiskOp = iota
	DiskOpHotRemove
	// DiskOpSpareWrite prepares a spare to receive resync writes
	DiskOpSpareWrite
	// DiskOpSpareActive promotes a fully synced spare to an active member
	DiskOpSpareActive
	// DiskOpSpareInactive abandons a spare whose resync did not complete
	DiskOpSpareInactive
)

func (op DiskOp) String() string {
	switch op {
	case DiskOpHotAdd:
		return "hot_add"
	case DiskOpHotRemove:
		return "hot_remove"
	case DiskOpSpareWrite:
		return "spare_write"
	case DiskOpSpareActive:
		return "spare_active"
	case DiskOpSpareInactive:
		return "spare_inactive"
	default:
		return "unknown"
	}
}

// ArrayHandle is the view of a running array a personality works against
type ArrayHandle interface {
	// Minor returns the array's numeric identity
	Minor() int

	// Superblock returns a copy of the array's merged superblock
	Superblock() types.SuperblockImage

	// Members returns the bound member devices in bind order
	Members() []types.MemberInfo

	// MemberDevice returns the open device occupying descriptor slot descNr
	MemberDevice(descNr int) (BlockDevice, bool)
}

// Personality implements the data placement and resync mechanics of one RAID level
type Personality interface {
	// Name returns the personality name, e.g. "raid1"
	Name() string

	// Level returns the RAID level served
	Level() int32

	// Capacity returns the logical size of the array in blocks
	Capacity(sb types.SuperblockImage, members []types.MemberInfo) uint64

	// Run starts the personality on an assembled array
	Run(ctx context.Context, a ArrayHandle) error

	// Stop releases the personality's private state
	Stop(a ArrayHandle) error

	// Status returns the personality specific part of the status line
	Status(a ArrayHandle) string

	// SyncRequest resynchronizes the blocks starting at position and returns
	// how many blocks were processed
	SyncRequest(ctx context.Context, a ArrayHandle, position uint64) (uint64, error)

	// StopResync reports whether a resync was interrupted by the stop
	StopResync(a ArrayHandle) bool

	// RestartResync resumes resync bookkeeping after a read-only period
	RestartResync(a ArrayHandle)

	// ErrorHandler is told that a member device has failed
	ErrorHandler(a ArrayHandle, failed types.DeviceID) error
}

// HotSwapper is implemented by personalities that support descriptor
// operations. Hot add/remove and spare recovery require it.
type HotSwapper interface {
	DiskOp(a ArrayHandle, desc *types.DiskDescriptor, op DiskOp) error
}

// IdleReporter is implemented by personalities that can tell whether the
// array's member devices are free of foreground I/O
type IdleReporter interface {
	IsIdle(a ArrayHandle) bool
}

// PersonalityRegistry resolves the personality serving a RAID level
type PersonalityRegistry interface {
	Lookup(level int32) (Personality, error)
}
