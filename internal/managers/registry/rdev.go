package registry

import (
	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// State tags what a registered device is currently used for
type State int

const (
	// StateRegistered devices are imported but belong to no array
	StateRegistered State = iota
	// StatePending devices wait for autorun to group them into arrays
	StatePending
	// StateBound devices are members of exactly one array
	StateBound
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StatePending:
		return "pending"
	case StateBound:
		return "bound"
	default:
		return "unknown"
	}
}

// NoOwner is the owner of a device not bound to any array
const NoOwner = -1

// Rdev is an imported raw device together with its most recently read
// superblock.
//
// The registry lock guards State and Owner. The remaining fields belong to
// the array the device is bound to and are changed only under that array's
// reconfiguration lock.
type Rdev struct {
	ID   types.DeviceID
	Name string

	// SizeBlocks is the raw device capacity in blocks
	SizeBlocks uint64
	// Size is the usable data size in blocks, set when the device joins an array
	Size uint64
	// SbOffset is the superblock location in blocks
	SbOffset uint64
	Faulty   bool
	// DescNr is the descriptor slot the device occupies, or -1
	DescNr int
	// ChecksumValid reports whether the last read superblock checksummed
	ChecksumValid bool

	dev        interfaces.BlockDevice
	superblock *types.SuperblockImage
	state      State
	owner      int
	seq        uint64
}

// Device returns the exclusively opened device
func (r *Rdev) Device() interfaces.BlockDevice { return r.dev }

// Superblock returns a copy of the device's superblock, if it has one
func (r *Rdev) Superblock() (types.SuperblockImage, bool) {
	if r.superblock == nil {
		return types.SuperblockImage{}, false
	}
	return *r.superblock, true
}

// SetSuperblock replaces the device's superblock copy
func (r *Rdev) SetSuperblock(sb types.SuperblockImage) {
	r.superblock = &sb
}

// DropSuperblock forgets the device's superblock. Faulty devices never keep one.
func (r *Rdev) DropSuperblock() {
	r.superblock = nil
}

// HasSuperblock reports whether a superblock copy is cached
func (r *Rdev) HasSuperblock() bool { return r.superblock != nil }

// MarkFaulty flags the device faulty and drops its superblock
func (r *Rdev) MarkFaulty() {
	r.Faulty = true
	r.superblock = nil
}

// MemberInfo describes the device as an array member
func (r *Rdev) MemberInfo() types.MemberInfo {
	return types.MemberInfo{
		Device:   r.ID,
		DescNr:   r.DescNr,
		Faulty:   r.Faulty,
		Size:     r.Size,
		SbOffset: r.SbOffset,
	}
}
