package services

import (
	"context"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// SuperblockInfo is the decoded superblock of one device
type SuperblockInfo struct {
	DevicePath       string
	Device           types.DeviceID
	SizeBlocks       uint64
	OffsetBlocks     uint64
	Superblock       types.SuperblockImage
	StoredChecksum   uint32
	ComputedChecksum uint32
	ChecksumValid    bool
}

// MemberStatus describes one member device of an array
type MemberStatus struct {
	Device     types.DeviceID
	DevicePath string
	Slot       int
	Faulty     bool
	SizeBlocks uint64
}

// ArrayStatus is a point-in-time view of an array
type ArrayStatus struct {
	Minor       int
	Name        string
	State       types.ArrayState
	Level       int32
	UUID        string
	Events      uint64
	Clean       bool
	RaidDisks   uint32
	Active      uint32
	Working     uint32
	Failed      uint32
	Spare       uint32
	ChunkSize   uint32
	// SizeBlocks is the per-member data size; resync runs up to it
	SizeBlocks  uint64
	Capacity    uint64
	NeedsResync bool
	Syncing     bool
	Cursor      uint64
	Speed       uint64
	Descriptors []types.DiskDescriptor
	Members     []MemberStatus
	Status      string
}

// CreateRequest describes a brand-new array
type CreateRequest struct {
	Minor         int
	Level         int32
	ChunkSize     uint32
	RaidDevices   int
	Devices       []string
	NotPersistent bool
	// AssumeClean marks the new superblock clean so no initial resync runs
	AssumeClean bool
}

// MDService is the control surface over arrays backed by device paths
type MDService interface {
	// Examine reads the superblock of a device without importing it
	Examine(path string) (*SuperblockInfo, error)

	// Create builds and runs a new array from empty devices
	Create(ctx context.Context, req CreateRequest) (*ArrayStatus, error)

	// Assemble imports the devices and starts every complete set found
	Assemble(ctx context.Context, paths []string) ([]ArrayStatus, error)

	// HotAdd adds a spare to a running array
	HotAdd(minor int, path string) error

	// HotRemove removes a spare or faulty member from a running array
	HotRemove(minor int, path string) error

	// SetFaulty fails a member of a running array
	SetFaulty(minor int, path string) error

	// Resync runs recovery scans until no array needs work
	Resync(ctx context.Context) error

	// Stop stops an array; readOnly keeps it assembled
	Stop(minor int, readOnly bool) error

	// Array returns the status of one array
	Array(minor int) (*ArrayStatus, error)

	// Arrays lists every known array
	Arrays() []ArrayStatus

	// Close stops every array and releases all devices
	Close() error
}
