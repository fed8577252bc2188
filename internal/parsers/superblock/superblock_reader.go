package superblock

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// superblockReader implements the SuperblockReader interface
type superblockReader struct {
	superblock types.SuperblockImage
	computed   uint32
}

// NewSuperblockReader decodes a raw superblock record. It fails with
// types.ErrBadMagic when the magic is absent. A checksum mismatch does not
// fail the decode; it is reported through ChecksumValid.
func NewSuperblockReader(data []byte) (interfaces.SuperblockReader, error) {
	if len(data) < types.SuperblockBytes {
		return nil, fmt.Errorf("data too small for superblock: %d bytes: %w", len(data), types.ErrNoSuperblock)
	}

	sb := unmarshal(data)
	if sb.Magic != types.SuperblockMagic {
		return nil, fmt.Errorf("invalid superblock magic: got 0x%08X, want 0x%08X: %w", sb.Magic, types.SuperblockMagic, types.ErrBadMagic)
	}

	return &superblockReader{
		superblock: sb,
		computed:   Checksum(data),
	}, nil
}

// Decode is a shorthand for NewSuperblockReader returning the image and the
// checksum state.
func Decode(data []byte) (types.SuperblockImage, bool, error) {
	r, err := NewSuperblockReader(data)
	if err != nil {
		return types.SuperblockImage{}, false, err
	}
	return r.Superblock(), r.ChecksumValid(), nil
}

func (r *superblockReader) Superblock() types.SuperblockImage { return r.superblock }

func (r *superblockReader) StoredChecksum() uint32 { return r.superblock.Checksum }

func (r *superblockReader) ComputedChecksum() uint32 { return r.computed }

func (r *superblockReader) ChecksumValid() bool { return r.superblock.Checksum == r.computed }

// unmarshal parses a raw record into an image without validation
func unmarshal(data []byte) types.SuperblockImage {
	le := binary.LittleEndian
	word := func(i int) uint32 { return le.Uint32(data[i*4 : i*4+4]) }

	var sb types.SuperblockImage

	// Generic constant section
	sb.Magic = word(types.WordMagic)
	sb.MajorVersion = word(types.WordMajorVersion)
	sb.MinorVersion = word(types.WordMinorVersion)
	sb.PatchVersion = word(types.WordPatchVersion)
	sb.GValidWords = word(types.WordGValidWords)
	sb.SetUUID[0] = word(types.WordSetUUID0)
	sb.Ctime = word(types.WordCtime)
	sb.Level = int32(word(types.WordLevel))
	sb.Size = word(types.WordSize)
	sb.NrDisks = word(types.WordNrDisks)
	sb.RaidDisks = word(types.WordRaidDisks)
	sb.MdMinor = word(types.WordMdMinor)
	sb.NotPersistent = word(types.WordNotPersistent)
	sb.SetUUID[1] = word(types.WordSetUUID1)
	sb.SetUUID[2] = word(types.WordSetUUID2)
	sb.SetUUID[3] = word(types.WordSetUUID3)

	// Generic state section
	sb.Utime = word(types.WordUtime)
	sb.State = word(types.WordState)
	sb.ActiveDisks = word(types.WordActiveDisks)
	sb.WorkingDisks = word(types.WordWorkingDisks)
	sb.FailedDisks = word(types.WordFailedDisks)
	sb.SpareDisks = word(types.WordSpareDisks)
	sb.Checksum = word(types.WordChecksum)
	sb.Events = uint64(word(types.WordEventsHi))<<32 | uint64(word(types.WordEventsLo))

	// Personality section
	sb.Layout = word(types.WordLayout)
	sb.ChunkSize = word(types.WordChunkSize)

	for i := 0; i < types.MDSbDisks; i++ {
		sb.Disks[i] = unmarshalDescriptor(data, types.WordDisks+i*types.DescriptorWords)
	}
	sb.ThisDisk = unmarshalDescriptor(data, types.WordThisDisk)

	return sb
}

func unmarshalDescriptor(data []byte, base int) types.DiskDescriptor {
	le := binary.LittleEndian
	word := func(i int) uint32 { return le.Uint32(data[(base+i)*4 : (base+i)*4+4]) }
	return types.DiskDescriptor{
		Number:   word(types.DescWordNumber),
		Major:    word(types.DescWordMajor),
		Minor:    word(types.DescWordMinor),
		RaidDisk: word(types.DescWordRaidDisk),
		State:    word(types.DescWordState),
	}
}
