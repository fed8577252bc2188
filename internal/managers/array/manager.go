package array

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/config"
	"github.com/deploymenttheory/go-mdraid/internal/interfaces"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/metrics"
	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// Manager owns every array of the process
type Manager struct {
	mu     sync.Mutex
	arrays map[int]*Array

	registry      *registry.Registry
	personalities interfaces.PersonalityRegistry
	cfg           *config.Config
	log           logrus.FieldLogger
	metrics       *metrics.Metrics
	clock         clock.Clock

	wakeMu sync.Mutex
	wake   func()
}

// Options carries the collaborators of a Manager. Zero fields get defaults.
type Options struct {
	Config  *config.Config
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// NewManager creates a manager with no arrays
func NewManager(reg *registry.Registry, personalities interfaces.PersonalityRegistry, opts Options) *Manager {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Manager{
		arrays:        make(map[int]*Array),
		registry:      reg,
		personalities: personalities,
		cfg:           opts.Config,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		clock:         opts.Clock,
	}
}

// Config returns the manager's configuration
func (m *Manager) Config() *config.Config { return m.cfg }

// Registry returns the device registry arrays bind from
func (m *Manager) Registry() *registry.Registry { return m.registry }

// SetRecoveryWaker installs the function called whenever recovery work
// may have become available
func (m *Manager) SetRecoveryWaker(wake func()) {
	m.wakeMu.Lock()
	defer m.wakeMu.Unlock()
	m.wake = wake
}

func (m *Manager) wakeRecovery() {
	m.wakeMu.Lock()
	wake := m.wake
	m.wakeMu.Unlock()
	if wake != nil {
		wake()
	}
}

// Create allocates an empty array with the given minor
func (m *Manager) Create(minor int) (*Array, error) {
	if minor < 0 {
		return nil, types.UserError("create", fmt.Errorf("%w: minor %d", types.ErrInvalidArgument, minor))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.arrays[minor]; ok {
		return nil, types.UserError("create", fmt.Errorf("%w: md%d", types.ErrArrayExists, minor))
	}
	a := newArray(m, minor)
	m.arrays[minor] = a
	m.metrics.SetArrayState(a.name, a.state.String())
	a.log.Debug("array created")
	return a, nil
}

// Get returns the array with the given minor
func (m *Manager) Get(minor int) (*Array, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arrays[minor]
	return a, ok
}

// Lookup is Get returning ErrArrayNotFound for unknown minors
func (m *Manager) Lookup(minor int) (*Array, error) {
	a, ok := m.Get(minor)
	if !ok {
		return nil, types.UserError("lookup", fmt.Errorf("%w: md%d", types.ErrArrayNotFound, minor))
	}
	return a, nil
}

// Arrays returns every array ordered by minor
func (m *Manager) Arrays() []*Array {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Array, 0, len(m.arrays))
	for _, a := range m.arrays {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].minor < out[j].minor })
	return out
}

// FindOwner returns the array the device is bound to
func (m *Manager) FindOwner(id types.DeviceID) (*Array, bool) {
	rdev, ok := m.registry.FindByDevice(id)
	if !ok {
		return nil, false
	}
	st, owner := m.registry.State(rdev)
	if st != registry.StateBound {
		return nil, false
	}
	return m.Get(owner)
}

func (m *Manager) remove(a *Array) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.arrays[a.minor]; ok && cur == a {
		delete(m.arrays, a.minor)
	}
}

// Autorun groups the pending devices by set UUID and starts one array per
// group at the minor recorded in the group's superblock. It returns the
// arrays that reached Running; failures are joined into the error.
func (m *Manager) Autorun(ctx context.Context) ([]*Array, error) {
	type group struct {
		head  types.SuperblockImage
		rdevs []*registry.Rdev
	}
	var groups []*group
	for _, rdev := range m.registry.Pending() {
		sb, ok := rdev.Superblock()
		if !ok {
			continue
		}
		var g *group
		for _, cand := range groups {
			if cand.head.SameSet(sb) && cand.head.ConstantEqual(sb) {
				g = cand
				break
			}
		}
		if g == nil {
			g = &group{head: sb}
			groups = append(groups, g)
		}
		g.rdevs = append(g.rdevs, rdev)
	}

	var started []*Array
	var errs []error
	for _, g := range groups {
		minor := int(g.head.MdMinor)
		log := m.log.WithFields(logrus.Fields{"array": fmt.Sprintf("md%d", minor), "uuid": g.head.UUID()})

		a, exists := m.Get(minor)
		if exists && len(a.Devices()) > 0 {
			log.Warn("array already has members, not autorunning pending devices")
			for _, rdev := range g.rdevs {
				if err := m.registry.Export(rdev); err != nil {
					log.WithError(err).Warn("failed to export pending device")
				}
			}
			errs = append(errs, types.UserError("autorun", fmt.Errorf("%w: md%d", types.ErrBusy, minor)))
			continue
		}
		if !exists {
			var err error
			if a, err = m.Create(minor); err != nil {
				errs = append(errs, err)
				continue
			}
		}

		log.WithField("devices", len(g.rdevs)).Info("autorunning array")
		if err := a.bindPending(g.rdevs); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.Run(ctx); err != nil {
			log.WithError(err).Error("failed to run array")
			if stopErr := a.Stop(false); stopErr != nil {
				log.WithError(stopErr).Warn("failed to release array after failed run")
			}
			errs = append(errs, err)
			continue
		}
		started = append(started, a)
	}
	return started, errors.Join(errs...)
}

// Shutdown fully stops every array
func (m *Manager) Shutdown() error {
	var errs []error
	for _, a := range m.Arrays() {
		if err := a.Stop(false); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", a.name, err))
		}
	}
	return errors.Join(errs...)
}
