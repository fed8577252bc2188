package superblock

import (
	"fmt"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// ReadFrom reads and decodes the superblock stored at offsetBlocks on dev.
func ReadFrom(dev interfaces.BlockDevice, offsetBlocks uint64) (interfaces.SuperblockReader, error) {
	buf := make([]byte, types.SuperblockBytes)
	if _, err := dev.ReadAt(buf, int64(offsetBlocks)*types.BlockSize); err != nil {
		return nil, fmt.Errorf("failed to read superblock at block %d: %w", offsetBlocks, err)
	}
	return NewSuperblockReader(buf)
}

// WriteTo encodes sb and writes it at offsetBlocks on dev, then flushes dev.
func WriteTo(dev interfaces.BlockDevice, offsetBlocks uint64, sb types.SuperblockImage) error {
	if _, err := dev.WriteAt(Encode(sb), int64(offsetBlocks)*types.BlockSize); err != nil {
		return fmt.Errorf("failed to write superblock at block %d: %w", offsetBlocks, err)
	}
	if err := dev.Sync(); err != nil {
		return fmt.Errorf("failed to flush superblock write: %w", err)
	}
	return nil
}
