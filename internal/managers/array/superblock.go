package array

import (
	"errors"
	"fmt"
	"math"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/managers/assembler"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/parsers/superblock"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// rdevSnapshot is the per-device state an assembly may change
type rdevSnapshot struct {
	rdev          *registry.Rdev
	descNr        int
	size          uint64
	sbOffset      uint64
	sb            types.SuperblockImage
	hasSuperblock bool
}

type savedState struct {
	sb    *types.SuperblockImage
	rdevs []*registry.Rdev
	devs  []rdevSnapshot
}

func (a *Array) saveLocked() savedState {
	s := savedState{rdevs: append([]*registry.Rdev(nil), a.rdevs...)}
	if a.sb != nil {
		sb := *a.sb
		s.sb = &sb
	}
	for _, rdev := range a.rdevs {
		snap := rdevSnapshot{rdev: rdev, descNr: rdev.DescNr, size: rdev.Size, sbOffset: rdev.SbOffset}
		snap.sb, snap.hasSuperblock = rdev.Superblock()
		s.devs = append(s.devs, snap)
	}
	return s
}

func (a *Array) restoreLocked(s savedState) {
	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	a.sb = s.sb
	a.rdevs = s.rdevs
	for _, snap := range s.devs {
		snap.rdev.DescNr = snap.descNr
		snap.rdev.Size = snap.size
		snap.rdev.SbOffset = snap.sbOffset
		if snap.hasSuperblock {
			snap.rdev.SetSuperblock(snap.sb)
		} else {
			snap.rdev.DropSuperblock()
		}
	}
}

// applyPlanLocked installs the merged image and the surviving members and
// returns the evicted devices, still bound
func (a *Array) applyPlanLocked(plan *assembler.Result, sizes []uint64) []*registry.Rdev {
	persistent := plan.Superblock.IsPersistent()
	keep := make(map[int]bool, len(plan.Members))
	members := make([]*registry.Rdev, 0, len(plan.Members))

	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	for i, m := range plan.Members {
		rdev := a.rdevs[m.Index]
		rdev.DescNr = m.DescNr
		rdev.Size = sizes[i]
		rdev.SbOffset = superblock.Offset(rdev.SizeBlocks, persistent)
		rdev.SetSuperblock(m.Superblock)
		keep[m.Index] = true
		members = append(members, rdev)
	}
	var kicked []*registry.Rdev
	for i, rdev := range a.rdevs {
		if !keep[i] {
			kicked = append(kicked, rdev)
		}
	}
	sb := plan.Superblock
	a.sb = &sb
	a.rdevs = members
	return kicked
}

// syncSuperblocksLocked derives every member's own superblock from the
// merged image
func (a *Array) syncSuperblocksLocked() {
	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	if a.sb == nil {
		return
	}
	for _, rdev := range a.rdevs {
		if rdev.Faulty || rdev.DescNr < 0 {
			continue
		}
		own := *a.sb
		own.ThisDisk = own.Disks[rdev.DescNr]
		rdev.SetSuperblock(superblock.Seal(own))
		rdev.ChecksumValid = true
	}
}

// WriteSuperblock persists the merged superblock on operator request,
// releasing a hold placed by assembly
func (a *Array) WriteSuperblock() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sb == nil {
		return types.UserError("write_superblock", types.ErrNoArraySuperblock)
	}
	return a.updateSuperblockLocked(true)
}

// updateSuperblockLocked bumps the event counter and writes the merged image
// to every working member. Automatic updates are skipped while writes are
// held; operator updates release the hold.
func (a *Array) updateSuperblockLocked(operator bool) error {
	a.infoMu.Lock()
	if a.sb == nil {
		a.infoMu.Unlock()
		return nil
	}
	if a.holdWrites {
		if !operator {
			a.infoMu.Unlock()
			a.log.Debug("superblock update held, not writing")
			return nil
		}
		a.holdWrites = false
		a.log.Info("superblock write hold released")
	}
	a.sb.Utime = uint32(a.mgr.clock.Now().Unix())
	a.sb.Events++
	if a.sb.Events == 0 {
		a.log.WithField("bug", true).Error("event counter overflow")
		a.sb.Events = math.MaxUint64
	}
	sb := *a.sb
	a.infoMu.Unlock()

	a.syncSuperblocksLocked()
	a.mgr.metrics.SetEvents(a.name, sb.Events)
	a.mgr.metrics.SetDisks(a.name, sb.ActiveDisks, sb.WorkingDisks, sb.FailedDisks, sb.SpareDisks)

	if !sb.IsPersistent() {
		return nil
	}
	return a.writeSuperblocksLocked(sb.Events)
}

func (a *Array) writeSuperblocksLocked(events uint64) error {
	a.infoMu.RLock()
	pending := make([]*registry.Rdev, 0, len(a.rdevs))
	for _, rdev := range a.rdevs {
		if !rdev.Faulty && rdev.DescNr >= 0 {
			pending = append(pending, rdev)
		}
	}
	a.infoMu.RUnlock()

	attempts := 0
	operation := func() error {
		attempts++
		var failed []*registry.Rdev
		var errs []error
		for _, rdev := range pending {
			if err := a.writeDeviceSuperblock(rdev); err != nil {
				failed = append(failed, rdev)
				errs = append(errs, err)
			}
		}
		pending = failed
		if len(errs) > 0 {
			a.log.WithFields(logrus.Fields{
				"attempt": attempts,
				"failed":  len(failed),
			}).Debug("superblock write failed")
			return errors.Join(errs...)
		}
		return nil
	}

	retries := a.mgr.cfg.SuperblockWriteRetries
	if retries < 1 {
		retries = 1
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(a.mgr.cfg.SuperblockRetryInterval), uint64(retries-1))
	err := backoff.Retry(operation, policy)
	a.mgr.metrics.SuperblockWrite(err == nil)
	if err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{
			"attempts": attempts,
			"events":   events,
		}).Error("superblock update failed, giving up")
		return types.Transient("update_superblock", fmt.Errorf("%w: %v", types.ErrIO, err))
	}
	a.log.WithFields(logrus.Fields{"events": events, "attempts": attempts}).Debug("superblock written")
	return nil
}

func (a *Array) writeDeviceSuperblock(rdev *registry.Rdev) error {
	sb, ok := rdev.Superblock()
	if !ok {
		return nil
	}
	if want := superblock.Offset(rdev.SizeBlocks, true); rdev.SbOffset != want {
		a.log.WithFields(logrus.Fields{
			"device": rdev.Name,
			"offset": rdev.SbOffset,
			"want":   want,
		}).Warn("device size or superblock offset changed, skipping write")
		return nil
	}
	if size := uint64(rdev.Device().Size()) / types.BlockSize; size != rdev.SizeBlocks {
		a.log.WithFields(logrus.Fields{
			"device": rdev.Name,
			"size":   size,
			"was":    rdev.SizeBlocks,
		}).Warn("device size or superblock offset changed, skipping write")
		return nil
	}
	if err := superblock.WriteTo(rdev.Device(), rdev.SbOffset, sb); err != nil {
		return fmt.Errorf("%s: %w", rdev.Name, err)
	}
	return nil
}
