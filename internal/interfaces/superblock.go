// File: internal/interfaces/superblock.go
package interfaces

import "github.com/deploymenttheory/go-mdraid/internal/types"

// SuperblockReader provides access to a decoded MD superblock
type SuperblockReader interface {
	// Superblock returns the decoded image
	Superblock() types.SuperblockImage

	// StoredChecksum returns the checksum embedded in the raw block
	StoredChecksum() uint32

	// ComputedChecksum returns the checksum recomputed over the raw block
	ComputedChecksum() uint32

	// ChecksumValid reports whether both checksums agree
	ChecksumValid() bool
}
