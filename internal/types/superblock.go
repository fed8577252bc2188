// Package types implements the on-disk and in-memory data structures of the
// MD software RAID array manager.
//
// The persistent superblock follows the classic 0.90 layout: a 4 KiB record of
// little-endian 32-bit words placed in the last 64 KiB-aligned reserved area of
// every member device.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Superblock geometry
const (
	// BlockSize is the unit used for device and array sizes (1 KiB).
	BlockSize = 1024

	// SuperblockBytes is the size of the serialized superblock record.
	SuperblockBytes = 4096

	// SuperblockWords is the number of 32-bit words in the record.
	SuperblockWords = SuperblockBytes / 4

	// ReservedBytes is the size of the area reserved at the end of a member device.
	ReservedBytes = 64 * 1024

	// ReservedBlocks is ReservedBytes expressed in BlockSize units.
	ReservedBlocks = ReservedBytes / BlockSize

	// MDSbDisks is the capacity of the descriptor table.
	MDSbDisks = 27

	// DescriptorWords is the number of words per disk descriptor.
	DescriptorWords = 32
)

// Superblock word offsets
const (
	WordMagic         = 0
	WordMajorVersion  = 1
	WordMinorVersion  = 2
	WordPatchVersion  = 3
	WordGValidWords   = 4
	WordSetUUID0      = 5
	WordCtime         = 6
	WordLevel         = 7
	WordSize          = 8
	WordNrDisks       = 9
	WordRaidDisks     = 10
	WordMdMinor       = 11
	WordNotPersistent = 12
	WordSetUUID1      = 13
	WordSetUUID2      = 14
	WordSetUUID3      = 15

	WordUtime        = 32
	WordState        = 33
	WordActiveDisks  = 34
	WordWorkingDisks = 35
	WordFailedDisks  = 36
	WordSpareDisks   = 37
	WordChecksum     = 38
	WordEventsLo     = 39
	WordEventsHi     = 40

	WordLayout    = 64
	WordChunkSize = 65

	WordDisks    = 128
	WordThisDisk = SuperblockWords - DescriptorWords

	// GenericConstantWords is the length of the section whose fields must agree
	// across all members of the same array.
	GenericConstantWords = 32
)

// Descriptor word offsets (relative to the descriptor start)
const (
	DescWordNumber   = 0
	DescWordMajor    = 1
	DescWordMinor    = 2
	DescWordRaidDisk = 3
	DescWordState    = 4
)

// Format identification
const (
	// SuperblockMagic identifies an MD superblock.
	SuperblockMagic uint32 = 0xa92b4efc

	MajorVersion uint32 = 0
	MinorVersion uint32 = 90
	PatchVersion uint32 = 0

	// MinSupportedMinor and MaxSupportedMinor bound the minor versions the
	// assembler accepts for MajorVersion.
	MinSupportedMinor uint32 = 90
	MaxSupportedMinor uint32 = 90
)

// Disk descriptor state bits
const (
	DiskFaulty  uint32 = 1 << 0
	DiskActive  uint32 = 1 << 1
	DiskSync    uint32 = 1 << 2
	DiskRemoved uint32 = 1 << 3
)

// Array state bits
const (
	SbClean  uint32 = 1 << 0
	SbErrors uint32 = 1 << 1
)

// RAID levels. Negative values are non-redundant configurations.
const (
	LevelLinear int32 = -1
	LevelRaid0  int32 = 0
	LevelRaid1  int32 = 1
	LevelRaid4  int32 = 4
	LevelRaid5  int32 = 5
)

// IsRedundantLevel reports whether the level keeps redundant data that needs
// resynchronization after an unclean shutdown.
func IsRedundantLevel(level int32) bool {
	return level == LevelRaid1 || level == LevelRaid4 || level == LevelRaid5
}

// LevelName returns the conventional personality name for a level.
func LevelName(level int32) string {
	switch level {
	case LevelLinear:
		return "linear"
	case LevelRaid0, LevelRaid1, LevelRaid4, LevelRaid5:
		return fmt.Sprintf("raid%d", level)
	default:
		return fmt.Sprintf("level%d", level)
	}
}

// DiskDescriptor is one slot of the superblock device table.
type DiskDescriptor struct {
	// Number is the slot (descriptor) number.
	Number uint32
	// Major and Minor identify the device recorded in the slot.
	Major uint32
	Minor uint32
	// RaidDisk is the role of the device within the array.
	RaidDisk uint32
	// State is a combination of the Disk* bits.
	State uint32
}

// ID returns the device recorded in the slot.
func (d DiskDescriptor) ID() DeviceID {
	return DeviceID{Major: d.Major, Minor: d.Minor}
}

// SetID records dev in the slot.
func (d *DiskDescriptor) SetID(dev DeviceID) {
	d.Major = dev.Major
	d.Minor = dev.Minor
}

// IsEmpty reports whether the slot carries no device.
func (d DiskDescriptor) IsEmpty() bool { return d.Major == 0 && d.Minor == 0 }

func (d DiskDescriptor) IsFaulty() bool  { return d.State&DiskFaulty != 0 }
func (d DiskDescriptor) IsActive() bool  { return d.State&DiskActive != 0 }
func (d DiskDescriptor) IsSync() bool    { return d.State&DiskSync != 0 }
func (d DiskDescriptor) IsRemoved() bool { return d.State&DiskRemoved != 0 }

// IsSpare reports whether the slot holds a working device carrying no live data.
func (d DiskDescriptor) IsSpare() bool {
	return !d.IsEmpty() && !d.IsFaulty() && !d.IsActive() && !d.IsSync() && !d.IsRemoved()
}

// StateString renders the descriptor state bits.
func (d DiskDescriptor) StateString() string {
	switch {
	case d.IsRemoved():
		return "removed"
	case d.IsFaulty():
		return "faulty"
	case d.IsActive() && d.IsSync():
		return "active sync"
	case d.IsActive():
		return "active"
	case d.IsEmpty():
		return "empty"
	default:
		return "spare"
	}
}

// SuperblockImage is the decoded form of the persistent array descriptor.
//
// It is a plain value: the descriptor table is a fixed array, so assignment
// produces an independent copy. Code that changes an image works on a copy and
// installs the result, which keeps the provenance of the array's merged image
// traceable.
type SuperblockImage struct {
	Magic        uint32
	MajorVersion uint32
	MinorVersion uint32
	PatchVersion uint32
	GValidWords  uint32
	SetUUID      [4]uint32
	Ctime        uint32
	Level        int32
	// Size is the per-member data size in blocks.
	Size          uint32
	NrDisks       uint32
	RaidDisks     uint32
	MdMinor       uint32
	NotPersistent uint32

	Utime        uint32
	State        uint32
	ActiveDisks  uint32
	WorkingDisks uint32
	FailedDisks  uint32
	SpareDisks   uint32
	Checksum     uint32
	Events       uint64

	Layout uint32
	// ChunkSize is in bytes.
	ChunkSize uint32

	Disks    [MDSbDisks]DiskDescriptor
	ThisDisk DiskDescriptor
}

// IsPersistent reports whether members carry an on-disk superblock.
func (sb SuperblockImage) IsPersistent() bool { return sb.NotPersistent == 0 }

// IsClean reports whether the array was shut down cleanly.
func (sb SuperblockImage) IsClean() bool { return sb.State&SbClean != 0 }

// UUID returns the set UUID.
func (sb SuperblockImage) UUID() uuid.UUID {
	var u uuid.UUID
	for i, w := range sb.SetUUID {
		u[i*4] = byte(w >> 24)
		u[i*4+1] = byte(w >> 16)
		u[i*4+2] = byte(w >> 8)
		u[i*4+3] = byte(w)
	}
	return u
}

// SetUUIDFrom stores u as the set UUID.
func (sb *SuperblockImage) SetUUIDFrom(u uuid.UUID) {
	for i := range sb.SetUUID {
		sb.SetUUID[i] = uint32(u[i*4])<<24 | uint32(u[i*4+1])<<16 | uint32(u[i*4+2])<<8 | uint32(u[i*4+3])
	}
}

// SameSet reports whether both images carry the same set UUID.
func (sb SuperblockImage) SameSet(other SuperblockImage) bool {
	return sb.SetUUID == other.SetUUID
}

// ConstantEqual reports whether both images agree on every field of the
// generic constant section, except the live device-table entry count.
func (sb SuperblockImage) ConstantEqual(other SuperblockImage) bool {
	return sb.Magic == other.Magic &&
		sb.MajorVersion == other.MajorVersion &&
		sb.MinorVersion == other.MinorVersion &&
		sb.PatchVersion == other.PatchVersion &&
		sb.GValidWords == other.GValidWords &&
		sb.SetUUID == other.SetUUID &&
		sb.Ctime == other.Ctime &&
		sb.Level == other.Level &&
		sb.Size == other.Size &&
		sb.RaidDisks == other.RaidDisks &&
		sb.MdMinor == other.MdMinor &&
		sb.NotPersistent == other.NotPersistent
}

// RemoveDescriptor clears slot i and adjusts the disk counters the way the
// slot contributed to them.
func (sb *SuperblockImage) RemoveDescriptor(i int) {
	d := &sb.Disks[i]
	switch {
	case d.IsActive():
		sb.ActiveDisks = decr(sb.ActiveDisks)
		sb.WorkingDisks = decr(sb.WorkingDisks)
	case d.IsFaulty():
		sb.FailedDisks = decr(sb.FailedDisks)
	default:
		sb.SpareDisks = decr(sb.SpareDisks)
		sb.WorkingDisks = decr(sb.WorkingDisks)
	}
	sb.NrDisks = decr(sb.NrDisks)
	d.Major, d.Minor = 0, 0
	d.State = DiskRemoved
}

func decr(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return v - 1
}
