package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/array"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// speedWindow keeps the last few progress checkpoints of a sync
type speedWindow struct {
	step  time.Duration
	times []time.Time
	marks []uint64
	last  int
}

func newSpeedWindow(n int, step time.Duration, now time.Time) *speedWindow {
	if n < 2 {
		n = 2
	}
	w := &speedWindow{step: step, times: make([]time.Time, n), marks: make([]uint64, n)}
	for i := range w.times {
		w.times[i] = now
	}
	return w
}

// observe records position as a new checkpoint once step has passed
func (w *speedWindow) observe(now time.Time, position uint64) {
	if now.Sub(w.times[w.last]) < w.step {
		return
	}
	w.last = (w.last + 1) % len(w.times)
	w.times[w.last] = now
	w.marks[w.last] = position
}

// speed is the throughput in KiB/s since the oldest checkpoint
func (w *speedWindow) speed(now time.Time, position uint64) uint64 {
	oldest := (w.last + 1) % len(w.times)
	elapsed := uint64(now.Sub(w.times[oldest]) / time.Second)
	var done uint64
	if position > w.marks[oldest] {
		done = position - w.marks[oldest]
	}
	return done/(elapsed+1) + 1
}

// DoSync resynchronizes a until the cursor reaches the array size. The caller
// must have reserved the array with BeginSync; ctx is the context it returned.
func (e *Engine) DoSync(ctx context.Context, a *array.Array) error {
	if err := a.AdmitSync(ctx); err != nil {
		return err
	}
	defer a.ReleaseSync()

	if err := e.serialize(ctx, a); err != nil {
		return err
	}

	snap := a.Snapshot()
	pers := snap.Personality
	if pers == nil {
		return fmt.Errorf("%s: %w", snap.Name, types.ErrNotRunning)
	}
	idler, _ := pers.(interfaces.IdleReporter)
	size := uint64(snap.Superblock.Size)
	log := e.log.WithField("array", snap.Name)
	log.WithFields(logrus.Fields{
		"size":      size,
		"speed_min": e.cfg.SpeedLimitMin,
		"speed_max": e.cfg.SpeedLimitMax,
	}).Info("syncing")

	window := newSpeedWindow(e.cfg.SyncMarks, e.cfg.SyncMarkStep, e.clock.Now())
	urgent := false
	var position uint64
	for position < size {
		if err := ctx.Err(); err != nil {
			log.WithField("position", position).Info("sync interrupted")
			return interrupted(err)
		}
		n, err := pers.SyncRequest(ctx, a, position)
		if err != nil {
			log.WithError(err).WithField("position", position).Warn("sync request failed")
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s made no progress at block %d: %w", pers.Name(), position, types.ErrIO)
		}
		position += n
		if position > size {
			position = size
		}

		now := e.clock.Now()
		window.observe(now, position)
		speed := window.speed(now, position)
		a.SetResyncProgress(position, speed)
		if position >= size {
			break
		}

		// Throttle: stay below the maximum, and yield to foreground I/O
		// unless below the minimum.
		for speed > e.cfg.SpeedLimitMin {
			if urgent {
				log.Debug("sync back above minimum speed")
				urgent = false
			}
			idle := idler == nil || idler.IsIdle(a)
			if speed <= e.cfg.SpeedLimitMax && idle {
				break
			}
			if err := e.sleep(ctx, e.cfg.ThrottleInterval); err != nil {
				log.WithField("position", position).Info("sync interrupted")
				return interrupted(err)
			}
			speed = window.speed(e.clock.Now(), position)
			a.SetResyncProgress(position, speed)
		}
		if speed <= e.cfg.SpeedLimitMin && !urgent {
			log.WithField("speed", speed).Debug("sync below minimum speed, not throttling")
			urgent = true
		}
	}

	if err := a.FlushMembers(); err != nil {
		return fmt.Errorf("failed to flush members: %w: %v", types.ErrIO, err)
	}
	log.WithField("blocks", size).Info("sync done")
	return nil
}

// serialize waits until no other array sharing a physical unit with a is
// syncing, then claims the cursor
func (e *Engine) serialize(ctx context.Context, a *array.Array) error {
	warned := false
	for {
		e.serializeMu.Lock()
		other, busy := e.sharedUnitSync(a)
		if !busy {
			a.SetResyncProgress(1, 0)
			e.serializeMu.Unlock()
			return nil
		}
		e.serializeMu.Unlock()

		if !warned {
			e.log.WithFields(logrus.Fields{"array": a.Name(), "other": other}).
				Warn("delaying resync until other array has finished, they share one or more physical units")
			warned = true
		}
		if err := e.sleep(ctx, e.cfg.SerializePollInterval); err != nil {
			return interrupted(err)
		}
	}
}

func (e *Engine) sharedUnitSync(a *array.Array) (string, bool) {
	mine := a.Devices()
	for _, b := range e.mgr.Arrays() {
		if b == a {
			continue
		}
		snap := b.Snapshot()
		if snap.Cursor == 0 {
			continue
		}
		for _, x := range mine {
			for _, y := range snap.Devices {
				if x.SameUnit(y) {
					return snap.Name, true
				}
			}
		}
	}
	return "", false
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(d):
		return nil
	}
}
