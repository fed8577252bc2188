// Package mdtest builds member devices and superblocks for tests
package mdtest

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-mdraid/internal/device"
	"github.com/deploymenttheory/go-mdraid/internal/parsers/superblock"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

const (
	// DeviceBytes is the default member size (1024 blocks)
	DeviceBytes = 1 << 20
	// DataBlocks is the usable data size of a default member
	DataBlocks = 960
	// ChunkSize is the default chunk size in bytes
	ChunkSize = 64 * 1024
)

// SetUUID is the set UUID of every fixture array
var SetUUID = [4]uint32{0xdeadbeef, 0x01234567, 0x89abcdef, 0x0badf00d}

// IDs returns n device ids, each on its own physical unit
func IDs(n int) []types.DeviceID {
	ids := make([]types.DeviceID, n)
	for i := range ids {
		ids[i] = types.DeviceID{Major: 8, Minor: uint32((i + 1) * types.PartitionsPerUnit)}
	}
	return ids
}

// Superblock returns a clean merged image for an array whose first raidDisks
// devices are active members and whose remaining devices are spares.
func Superblock(level int32, raidDisks int, devs []types.DeviceID) types.SuperblockImage {
	sb := types.SuperblockImage{
		Magic:        types.SuperblockMagic,
		MajorVersion: types.MajorVersion,
		MinorVersion: types.MinorVersion,
		PatchVersion: types.PatchVersion,
		SetUUID:      SetUUID,
		Ctime:        1700000000,
		Level:        level,
		Size:         DataBlocks,
		NrDisks:      uint32(len(devs)),
		RaidDisks:    uint32(raidDisks),
		Utime:        1700000000,
		State:        types.SbClean,
		Events:       1,
		ChunkSize:    ChunkSize,
	}
	for i, id := range devs {
		d := types.DiskDescriptor{Number: uint32(i), RaidDisk: uint32(i)}
		d.SetID(id)
		if i < raidDisks {
			d.State = types.DiskActive | types.DiskSync
			sb.ActiveDisks++
		} else {
			sb.SpareDisks++
		}
		sb.WorkingDisks++
		sb.Disks[i] = d
	}
	return sb
}

// Own returns the copy of sb stored on the device occupying slot i
func Own(sb types.SuperblockImage, i int) types.SuperblockImage {
	sb.ThisDisk = sb.Disks[i]
	return superblock.Seal(sb)
}

// Attach creates a device of sizeBytes under id. When sb is non-nil it is
// written, sealed, at the persistent offset.
func Attach(opener *device.MemoryOpener, id types.DeviceID, sizeBytes int64, sb *types.SuperblockImage) *device.MemoryDevice {
	dev := device.NewMemoryDevice(sizeBytes)
	if sb != nil {
		WriteSuperblock(dev, *sb)
	}
	opener.Attach(id, dev)
	return dev
}

// WriteSuperblock stores sb, sealed, at the persistent offset of dev
func WriteSuperblock(dev *device.MemoryDevice, sb types.SuperblockImage) {
	off := superblock.Offset(uint64(dev.Size())/types.BlockSize, true)
	if err := superblock.WriteTo(dev, off, superblock.Seal(sb)); err != nil {
		panic(err)
	}
}

// CorruptChecksum flips the stored checksum of the superblock on dev
func CorruptChecksum(dev *device.MemoryDevice) {
	off := int64(superblock.Offset(uint64(dev.Size())/types.BlockSize, true)) * types.BlockSize
	word := make([]byte, 4)
	pos := off + types.WordChecksum*4
	if _, err := dev.ReadAt(word, pos); err != nil {
		panic(err)
	}
	binary.LittleEndian.PutUint32(word, binary.LittleEndian.Uint32(word)^0xffffffff)
	if _, err := dev.WriteAt(word, pos); err != nil {
		panic(err)
	}
}

// ReadSuperblock decodes the superblock currently stored on dev
func ReadSuperblock(dev *device.MemoryDevice) (types.SuperblockImage, bool) {
	off := superblock.Offset(uint64(dev.Size())/types.BlockSize, true)
	reader, err := superblock.ReadFrom(dev, off)
	if err != nil {
		return types.SuperblockImage{}, false
	}
	return reader.Superblock(), true
}
