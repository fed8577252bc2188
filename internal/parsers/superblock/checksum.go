package superblock

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Checksum computes the superblock checksum of a raw record. The checksum
// word is treated as zero. Words are summed into a 64-bit accumulator and the
// carries are folded back into the low 32 bits.
func Checksum(data []byte) uint32 {
	var sum uint64
	for i := 0; i+4 <= len(data) && i < types.SuperblockBytes; i += 4 {
		if i == types.WordChecksum*4 {
			continue
		}
		sum += uint64(binary.LittleEndian.Uint32(data[i : i+4]))
	}
	for sum>>32 != 0 {
		sum = (sum & 0xFFFFFFFF) + (sum >> 32)
	}
	return uint32(sum)
}

// ChecksumOf computes the checksum the image would carry once encoded.
func ChecksumOf(sb types.SuperblockImage) uint32 {
	return Checksum(marshal(sb))
}
