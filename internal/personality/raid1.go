package personality

import (
	"context"
	"fmt"
	"sync"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// SyncChunkBlocks is the largest span copied by one resync request
const SyncChunkBlocks = 128

type mirrorState struct {
	// spare is the slot being rebuilt, or -1 during a full resync
	spare         int
	resyncPending bool
}

// Raid1 mirrors every block onto all active members
type Raid1 struct {
	mu     sync.Mutex
	arrays map[int]*mirrorState
}

// NewRaid1 returns the mirroring personality
func NewRaid1() *Raid1 {
	return &Raid1{arrays: make(map[int]*mirrorState)}
}

func (r *Raid1) Name() string { return "raid1" }
func (r *Raid1) Level() int32 { return types.LevelRaid1 }

// Capacity of a mirror is the size of one member
func (r *Raid1) Capacity(sb types.SuperblockImage, members []types.MemberInfo) uint64 {
	return uint64(sb.Size)
}

func (r *Raid1) Run(ctx context.Context, a interfaces.ArrayHandle) error {
	sb := a.Superblock()
	working := 0
	for _, slot := range inSyncSlots(sb, a) {
		if _, ok := a.MemberDevice(slot); ok {
			working++
		}
	}
	if working == 0 {
		return fmt.Errorf("raid1 has no operational mirrors: %w", types.ErrNoDevices)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrays[a.Minor()] = &mirrorState{
		spare:         -1,
		resyncPending: !sb.IsClean() && working > 1,
	}
	return nil
}

func (r *Raid1) Stop(a interfaces.ArrayHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.arrays, a.Minor())
	return nil
}

// Status renders the mirror roles as [raid/working] [UU_]
func (r *Raid1) Status(a interfaces.ArrayHandle) string {
	sb := a.Superblock()
	roles := make([]byte, sb.RaidDisks)
	for i := range roles {
		roles[i] = '_'
	}
	working := 0
	for _, slot := range inSyncSlots(sb, a) {
		role := sb.Disks[slot].RaidDisk
		if role < sb.RaidDisks {
			roles[role] = 'U'
			working++
		}
	}
	return fmt.Sprintf("[%d/%d] [%s]", sb.RaidDisks, working, roles)
}

// SyncRequest copies up to SyncChunkBlocks blocks at position from an
// in-sync mirror to the spare being rebuilt, or to every other mirror during
// a full resync.
func (r *Raid1) SyncRequest(ctx context.Context, a interfaces.ArrayHandle, position uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrInterrupted, err)
	}
	st, err := r.state(a)
	if err != nil {
		return 0, err
	}

	sb := a.Superblock()
	size := uint64(sb.Size)
	if position >= size {
		return 0, nil
	}
	n := size - position
	if n > SyncChunkBlocks {
		n = SyncChunkBlocks
	}

	r.mu.Lock()
	spare := st.spare
	r.mu.Unlock()

	slots := inSyncSlots(sb, a)
	if len(slots) == 0 {
		return 0, fmt.Errorf("raid1 has no in-sync mirror to read from: %w", types.ErrIO)
	}
	source, _ := a.MemberDevice(slots[0])

	var targets []int
	if spare >= 0 {
		targets = []int{spare}
	} else {
		targets = slots[1:]
	}

	buf := make([]byte, n*types.BlockSize)
	off := int64(position) * types.BlockSize
	if _, err := source.ReadAt(buf, off); err != nil {
		return 0, fmt.Errorf("failed to read block %d from slot %d: %w: %v", position, slots[0], types.ErrIO, err)
	}
	for _, slot := range targets {
		dev, ok := a.MemberDevice(slot)
		if !ok {
			return 0, fmt.Errorf("slot %d has no device: %w", slot, types.ErrIO)
		}
		if _, err := dev.WriteAt(buf, off); err != nil {
			return 0, fmt.Errorf("failed to write block %d to slot %d: %w: %v", position, slot, types.ErrIO, err)
		}
	}

	if spare < 0 && position+n >= size {
		r.mu.Lock()
		st.resyncPending = false
		r.mu.Unlock()
	}
	return n, nil
}

// StopResync reports whether a full mirror resync is still unfinished
func (r *Raid1) StopResync(a interfaces.ArrayHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.arrays[a.Minor()]
	return ok && st.resyncPending
}

func (r *Raid1) RestartResync(a interfaces.ArrayHandle) {}

// ErrorHandler refuses to fail the last in-sync mirror
func (r *Raid1) ErrorHandler(a interfaces.ArrayHandle, failed types.DeviceID) error {
	sb := a.Superblock()
	remaining := 0
	for _, slot := range inSyncSlots(sb, a) {
		if sb.Disks[slot].ID() != failed {
			remaining++
		}
	}
	if remaining == 0 {
		return fmt.Errorf("refusing to fail %s, the last working mirror: %w", failed, types.ErrBusy)
	}
	return nil
}

// DiskOp implements interfaces.HotSwapper
func (r *Raid1) DiskOp(a interfaces.ArrayHandle, desc *types.DiskDescriptor, op interfaces.DiskOp) error {
	st, err := r.state(a)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := int(desc.Number)
	switch op {
	case interfaces.DiskOpHotAdd:
		if desc.IsActive() {
			return fmt.Errorf("slot %d is already active: %w", slot, types.ErrInvalidArgument)
		}
	case interfaces.DiskOpHotRemove:
		if st.spare == slot {
			return fmt.Errorf("slot %d is being rebuilt: %w", slot, types.ErrBusy)
		}
	case interfaces.DiskOpSpareWrite:
		if st.spare >= 0 {
			return fmt.Errorf("slot %d is already being rebuilt: %w", st.spare, types.ErrBusy)
		}
		st.spare = slot
	case interfaces.DiskOpSpareActive, interfaces.DiskOpSpareInactive:
		st.spare = -1
	default:
		return fmt.Errorf("disk op %s: %w", op, types.ErrNotSupported)
	}
	return nil
}

func (r *Raid1) state(a interfaces.ArrayHandle) (*mirrorState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.arrays[a.Minor()]
	if !ok {
		return nil, fmt.Errorf("md%d: %w", a.Minor(), types.ErrNotRunning)
	}
	return st, nil
}

// inSyncSlots lists the active, in-sync slots backed by a working member
func inSyncSlots(sb types.SuperblockImage, a interfaces.ArrayHandle) []int {
	var slots []int
	for _, m := range a.Members() {
		if m.Faulty || m.DescNr < 0 {
			continue
		}
		d := sb.Disks[m.DescNr]
		if d.IsActive() && d.IsSync() && !d.IsFaulty() {
			slots = append(slots, m.DescNr)
		}
	}
	return slots
}
