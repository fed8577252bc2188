package superblock

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Encode serializes the image into a raw record and embeds a freshly
// computed checksum. The Checksum field of sb is ignored.
func Encode(sb types.SuperblockImage) []byte {
	data := marshal(sb)
	binary.LittleEndian.PutUint32(data[types.WordChecksum*4:], Checksum(data))
	return data
}

// Seal returns a copy of sb whose Checksum field matches its encoding.
func Seal(sb types.SuperblockImage) types.SuperblockImage {
	sb.Checksum = ChecksumOf(sb)
	return sb
}

// marshal serializes the image verbatim, including its Checksum field
func marshal(sb types.SuperblockImage) []byte {
	data := make([]byte, types.SuperblockBytes)
	le := binary.LittleEndian
	put := func(i int, v uint32) { le.PutUint32(data[i*4:i*4+4], v) }

	put(types.WordMagic, sb.Magic)
	put(types.WordMajorVersion, sb.MajorVersion)
	put(types.WordMinorVersion, sb.MinorVersion)
	put(types.WordPatchVersion, sb.PatchVersion)
	put(types.WordGValidWords, sb.GValidWords)
	put(types.WordSetUUID0, sb.SetUUID[0])
	put(types.WordCtime, sb.Ctime)
	put(types.WordLevel, uint32(sb.Level))
	put(types.WordSize, sb.Size)
	put(types.WordNrDisks, sb.NrDisks)
	put(types.WordRaidDisks, sb.RaidDisks)
	put(types.WordMdMinor, sb.MdMinor)
	put(types.WordNotPersistent, sb.NotPersistent)
	put(types.WordSetUUID1, sb.SetUUID[1])
	put(types.WordSetUUID2, sb.SetUUID[2])
	put(types.WordSetUUID3, sb.SetUUID[3])

	put(types.WordUtime, sb.Utime)
	put(types.WordState, sb.State)
	put(types.WordActiveDisks, sb.ActiveDisks)
	put(types.WordWorkingDisks, sb.WorkingDisks)
	put(types.WordFailedDisks, sb.FailedDisks)
	put(types.WordSpareDisks, sb.SpareDisks)
	put(types.WordChecksum, sb.Checksum)
	put(types.WordEventsLo, uint32(sb.Events))
	put(types.WordEventsHi, uint32(sb.Events>>32))

	put(types.WordLayout, sb.Layout)
	put(types.WordChunkSize, sb.ChunkSize)

	for i, d := range sb.Disks {
		marshalDescriptor(data, types.WordDisks+i*types.DescriptorWords, d)
	}
	marshalDescriptor(data, types.WordThisDisk, sb.ThisDisk)

	return data
}

func marshalDescriptor(data []byte, base int, d types.DiskDescriptor) {
	le := binary.LittleEndian
	put := func(i int, v uint32) { le.PutUint32(data[(base+i)*4:(base+i)*4+4], v) }
	put(types.DescWordNumber, d.Number)
	put(types.DescWordMajor, d.Major)
	put(types.DescWordMinor, d.Minor)
	put(types.DescWordRaidDisk, d.RaidDisk)
	put(types.DescWordState, d.State)
}
