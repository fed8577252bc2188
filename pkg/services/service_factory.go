package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-mdraid/internal/config"
	"github.com/deploymenttheory/go-mdraid/internal/device"
	"github.com/deploymenttheory/go-mdraid/internal/logging"
	"github.com/deploymenttheory/go-mdraid/internal/managers/array"
	"github.com/deploymenttheory/go-mdraid/internal/managers/recovery"
	"github.com/deploymenttheory/go-mdraid/internal/managers/registry"
	"github.com/deploymenttheory/go-mdraid/internal/metrics"
	"github.com/deploymenttheory/go-mdraid/internal/personality"
)

// ServiceFactory builds the array stack once and hands out its services
type ServiceFactory struct {
	cfg    *config.Config
	logger *logrus.Logger
	clock  clock.Clock

	metrics   *metrics.Metrics
	mdService MDService
	server    *http.Server
	boundAddr string
	mu        sync.RWMutex

	initialized bool
}

// FactoryOption customizes a ServiceFactory
type FactoryOption func(*ServiceFactory)

// WithLogger replaces the logger built from the configuration
func WithLogger(logger *logrus.Logger) FactoryOption {
	return func(sf *ServiceFactory) { sf.logger = logger }
}

// WithClock replaces the wall clock used by the manager and engine
func WithClock(c clock.Clock) FactoryOption {
	return func(sf *ServiceFactory) { sf.clock = c }
}

// NewServiceFactory creates a factory for cfg. A nil cfg uses the defaults.
func NewServiceFactory(cfg *config.Config, opts ...FactoryOption) *ServiceFactory {
	if cfg == nil {
		cfg = config.Default()
	}
	sf := &ServiceFactory{cfg: cfg}
	for _, opt := range opts {
		opt(sf)
	}
	return sf
}

// Initialize wires config, logging, metrics, devices, registry, manager and
// recovery engine together
func (sf *ServiceFactory) Initialize() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.initialized {
		return nil
	}

	if sf.logger == nil {
		logger, err := logging.New(sf.cfg.LogLevel, sf.cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		sf.logger = logger
	}
	if sf.clock == nil {
		sf.clock = clock.New()
	}

	sf.metrics = metrics.New()
	opener := device.NewPathOpener()
	reg := registry.New(opener, sf.logger)
	manager := array.NewManager(reg, personality.NewDefaultRegistry(), array.Options{
		Config:  sf.cfg,
		Logger:  sf.logger,
		Metrics: sf.metrics,
		Clock:   sf.clock,
	})
	engine := recovery.NewEngine(manager, recovery.Options{
		Logger:  sf.logger,
		Metrics: sf.metrics,
		Clock:   sf.clock,
	})
	sf.mdService = NewMDService(opener, manager, engine, sf.logger)

	if sf.cfg.MetricsAddr != "" {
		if err := sf.serveMetricsLocked(); err != nil {
			return err
		}
	}

	sf.initialized = true
	return nil
}

// serveMetricsLocked exposes the collectors on cfg.MetricsAddr
func (sf *ServiceFactory) serveMetricsLocked() error {
	ln, err := net.Listen("tcp", sf.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", sf.cfg.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", sf.metrics.Handler())
	sf.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	sf.boundAddr = ln.Addr().String()

	log := sf.logger.WithField("addr", sf.boundAddr)
	log.Info("serving metrics")
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}(sf.server)
	return nil
}

// MDService returns the array control service
func (sf *ServiceFactory) MDService() (MDService, error) {
	if err := sf.Initialize(); err != nil {
		return nil, err
	}
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.mdService, nil
}

// Metrics returns the collectors, or nil before initialization
func (sf *ServiceFactory) Metrics() *metrics.Metrics {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.metrics
}

// Logger returns the factory's logger, or nil before initialization
func (sf *ServiceFactory) Logger() *logrus.Logger {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.logger
}

// Shutdown stops every array, releases all devices and closes the metrics
// endpoint
func (sf *ServiceFactory) Shutdown() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if !sf.initialized {
		return nil
	}

	var errs []error
	if err := sf.mdService.Close(); err != nil {
		errs = append(errs, err)
	}
	if sf.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sf.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		sf.server = nil
		sf.boundAddr = ""
	}

	sf.mdService = nil
	sf.metrics = nil
	sf.initialized = false
	return errors.Join(errs...)
}

// IsInitialized returns whether the factory has been initialized
func (sf *ServiceFactory) IsInitialized() bool {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.initialized
}

// MetricsAddr returns the bound metrics address, or "" when disabled
func (sf *ServiceFactory) MetricsAddr() string {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.boundAddr
}
