// Package recovery drives background resynchronization of MD arrays: it
// rebuilds spares into degraded arrays and resyncs arrays that were not shut
// down cleanly, one sync per array at a time.
package recovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/facebookgo/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-mdraid/internal/config"
	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/array"
	"github.com/deploymenttheory/go-mdraid/internal/metrics"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Engine is the recovery worker of one array manager
type Engine struct {
	mgr     *array.Manager
	cfg     *config.Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	clock   clock.Clock

	wake chan struct{}

	// serializeMu makes the shared-unit check and the cursor claim atomic
	serializeMu sync.Mutex
}

// Options carries the collaborators of an Engine. Zero fields get defaults.
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// NewEngine creates an engine and installs it as the manager's recovery waker
func NewEngine(mgr *array.Manager, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	e := &Engine{
		mgr:     mgr,
		cfg:     mgr.Config(),
		log:     opts.Logger.WithField("component", "recovery"),
		metrics: opts.Metrics,
		clock:   opts.Clock,
		wake:    make(chan struct{}, 1),
	}
	mgr.SetRecoveryWaker(e.Wake)
	return e
}

// Wake asks the worker to scan the arrays. It never blocks.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run is the background worker. It scans on every wake-up and every
// recovery interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.Ticker(e.cfg.RecoveryInterval)
	defer ticker.Stop()

	e.log.Debug("recovery worker started")
	for {
		if err := e.DoRecovery(ctx); err != nil && ctx.Err() == nil {
			e.log.WithError(err).Warn("recovery pass failed")
		}
		select {
		case <-ctx.Done():
			e.log.Debug("recovery worker stopped")
			return nil
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// DoRecovery scans every array once and runs the syncs it finds necessary.
// Arrays are handled concurrently; a pass that completed a sync or failed a
// spare is followed by another pass. It returns once no further work is
// possible without new spares.
func (e *Engine) DoRecovery(ctx context.Context) error {
	for {
		var again atomic.Bool
		g, gctx := errgroup.WithContext(ctx)
		for _, a := range e.mgr.Arrays() {
			a := a
			g.Go(func() error {
				// a cancelled pass starts no further syncs
				if err := gctx.Err(); err != nil {
					return err
				}
				if e.recoverArray(gctx, a) {
					again.Store(true)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !again.Load() {
			return nil
		}
	}
}

// recoverArray runs at most one sync on a and reports whether the array's
// state changed in a way that warrants another scan
func (e *Engine) recoverArray(ctx context.Context, a *array.Array) bool {
	snap := a.Snapshot()
	if snap.State != types.ArrayRunning || snap.Personality == nil || snap.Syncing {
		return false
	}
	log := e.log.WithField("array", snap.Name)
	sb := snap.Superblock

	var target *types.DiskDescriptor
	kind := "resync"
	if sb.ActiveDisks < sb.RaidDisks {
		if _, ok := snap.Personality.(interfaces.HotSwapper); ok {
			if spare, found := FindSpare(snap); found {
				target = &spare
				kind = "recovery"
			}
		}
		if target == nil && !snap.NeedsResync {
			log.WithFields(logrus.Fields{
				"active": sb.ActiveDisks,
				"raid":   sb.RaidDisks,
			}).Warn("no spare disk to reconstruct array, continuing in degraded mode")
			return false
		}
	} else if !snap.NeedsResync {
		return false
	}

	syncCtx, err := a.BeginSync(target)
	if err != nil {
		log.WithError(err).Debug("sync not started")
		return false
	}
	if target != nil {
		log.WithFields(logrus.Fields{"slot": target.Number, "device": target.ID()}).Info("starting recovery")
	} else {
		log.Info("starting resync")
	}

	syncErr := e.DoSync(syncCtx, a)
	outcome := a.EndSync(syncErr)
	e.metrics.RecoveryFinished(kind, outcome.String())
	log.WithFields(logrus.Fields{"kind": kind, "outcome": outcome.String()}).Debug("sync finished")

	return outcome == array.SyncCompleted || outcome == array.SyncSpareFailed
}

// FindSpare returns the first slot holding a working device that is neither
// active nor faulty
func FindSpare(snap array.Snapshot) (types.DiskDescriptor, bool) {
	sb := snap.Superblock
	for _, m := range snap.Members {
		if m.Faulty || m.DescNr < 0 || m.DescNr >= types.MDSbDisks {
			continue
		}
		d := sb.Disks[m.DescNr]
		if d.IsSpare() {
			return d, true
		}
	}
	return types.DiskDescriptor{}, false
}

func interrupted(err error) error {
	if errors.Is(err, types.ErrInterrupted) {
		return err
	}
	return errors.Join(types.ErrInterrupted, err)
}
