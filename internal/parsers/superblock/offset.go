package superblock

import "github.com/deploymenttheory/go-mdraid/internal/types"

// Offset returns the block offset of the superblock on a device of
// sizeBlocks blocks. The superblock occupies the last whole reserved area
// below the device end. A non-persistent array keeps no superblock on disk,
// so the whole device is data and the offset equals the device size.
func Offset(sizeBlocks uint64, persistent bool) uint64 {
	if !persistent {
		return sizeBlocks
	}
	if sizeBlocks < types.ReservedBlocks {
		return 0
	}
	return (sizeBlocks &^ (types.ReservedBlocks - 1)) - types.ReservedBlocks
}

// DataSize returns the usable data size, in blocks, of a member device. When
// chunkSize (bytes) is set the size is rounded down to whole chunks.
func DataSize(sizeBlocks uint64, persistent bool, chunkSize uint32) uint64 {
	size := Offset(sizeBlocks, persistent)
	if chunkBlocks := uint64(chunkSize) / types.BlockSize; chunkBlocks > 0 {
		size &^= chunkBlocks - 1
	}
	return size
}

// CanHold reports whether a device of sizeBlocks blocks is large enough to
// carry a superblock.
func CanHold(sizeBlocks uint64) bool {
	return sizeBlocks >= 2*types.ReservedBlocks
}
