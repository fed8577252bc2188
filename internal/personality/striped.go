package personality

import (
	"context"
	"fmt"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// striped implements the non-redundant levels. Linear concatenates members,
// raid0 stripes them in chunks; both only contribute sizing here.
type striped struct {
	name  string
	level int32
}

// NewLinear returns the linear (concatenation) personality
func NewLinear() interfaces.Personality {
	return &striped{name: "linear", level: types.LevelLinear}
}

// NewRaid0 returns the striping personality
func NewRaid0() interfaces.Personality {
	return &striped{name: "raid0", level: types.LevelRaid0}
}

func (s *striped) Name() string { return s.name }
func (s *striped) Level() int32 { return s.level }

// Capacity sums the usable size of every active member. raid0 rounds each
// member down to whole chunks.
func (s *striped) Capacity(sb types.SuperblockImage, members []types.MemberInfo) uint64 {
	var total uint64
	chunkBlocks := uint64(sb.ChunkSize) / types.BlockSize
	for _, m := range members {
		if m.Faulty || m.DescNr < 0 || !sb.Disks[m.DescNr].IsActive() {
			continue
		}
		size := m.Size
		if s.level == types.LevelRaid0 && chunkBlocks > 0 {
			size &^= chunkBlocks - 1
		}
		total += size
	}
	return total
}

func (s *striped) Run(ctx context.Context, a interfaces.ArrayHandle) error {
	sb := a.Superblock()
	active := 0
	for _, m := range a.Members() {
		if !m.Faulty && m.DescNr >= 0 && sb.Disks[m.DescNr].IsActive() {
			active++
		}
	}
	if active < int(sb.RaidDisks) {
		return fmt.Errorf("%s needs all %d members, %d present: %w", s.name, sb.RaidDisks, active, types.ErrNoDevices)
	}
	return nil
}

func (s *striped) Stop(a interfaces.ArrayHandle) error { return nil }

func (s *striped) Status(a interfaces.ArrayHandle) string {
	sb := a.Superblock()
	if s.level == types.LevelRaid0 {
		return fmt.Sprintf("%dk chunks", sb.ChunkSize/types.BlockSize)
	}
	return fmt.Sprintf("%dk rounding", sb.ChunkSize/types.BlockSize)
}

func (s *striped) SyncRequest(ctx context.Context, a interfaces.ArrayHandle, position uint64) (uint64, error) {
	return 0, fmt.Errorf("%s has no redundancy to resync: %w", s.name, types.ErrNotSupported)
}

func (s *striped) StopResync(a interfaces.ArrayHandle) bool { return false }

func (s *striped) RestartResync(a interfaces.ArrayHandle) {}

// ErrorHandler refuses member failures: a non-redundant array cannot lose one
func (s *striped) ErrorHandler(a interfaces.ArrayHandle, failed types.DeviceID) error {
	return fmt.Errorf("%s cannot survive the loss of %s: %w", s.name, failed, types.ErrBusy)
}
