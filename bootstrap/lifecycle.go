package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultServiceTimeout = 30 * time.Second
	healthProbeTimeout    = 5 * time.Second
	eventBuffer           = 100
)

type registration struct {
	service Service
	deps    []string
}

// DefaultLifecycleManager starts services in dependency order and stops them
// in reverse. Events go to a buffered channel, dropped when it is full, and
// to listeners, each on its own goroutine.
type DefaultLifecycleManager struct {
	mu        sync.RWMutex
	services  map[string]registration
	running   []string // started services, in start order
	started   bool
	stopping  bool
	timeout   time.Duration
	events    chan LifecycleEvent
	listeners []func(LifecycleEvent)
	logger    *zap.Logger
}

var _ LifecycleManager = (*DefaultLifecycleManager)(nil)

func NewLifecycleManager(logger *zap.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultLifecycleManager{
		services: make(map[string]registration),
		timeout:  defaultServiceTimeout,
		events:   make(chan LifecycleEvent, eventBuffer),
		logger:   logger,
	}
}

func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	switch {
	case name == "":
		return errors.New("register: empty service name")
	case service == nil:
		return fmt.Errorf("register %s: nil service", name)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return fmt.Errorf("register %s: already started", name)
	}
	if _, dup := lm.services[name]; dup {
		return fmt.Errorf("register %s: name in use", name)
	}
	lm.services[name] = registration{service: service, deps: deps}

	lm.emit(EventServiceRegistered, name, nil, map[string]any{"dependencies": deps})
	return nil
}

// Start brings services up one at a time. When one fails, those already
// running are stopped again and the failure is returned as an
// *ApplicationError.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return errors.New("lifecycle already started")
	}

	order, err := lm.startOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}
	lm.emit(EventLifecycleStarting, "", nil, map[string]any{"order": order})

	for _, name := range order {
		lm.emit(EventServiceStarting, name, nil, nil)

		if err := lm.withTimeout(ctx, lm.services[name].service.Start); err != nil {
			lm.emit(EventServiceStartFailed, name, err, nil)
			lm.stopRunning(context.WithoutCancel(ctx))
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.running = append(lm.running, name)
		lm.emit(EventServiceStarted, name, nil, nil)
	}

	lm.started = true
	lm.emit(EventLifecycleStarted, "", nil, nil)
	return nil
}

func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.started {
		return nil
	}
	if lm.stopping {
		return errors.New("lifecycle already stopping")
	}
	lm.stopping = true
	lm.emit(EventLifecycleStopping, "", nil, nil)

	err := lm.stopRunning(ctx)

	lm.started, lm.stopping = false, false
	lm.emit(EventLifecycleStopped, "", nil, nil)
	return err
}

// stopRunning stops started services, newest first. Caller holds mu.
func (lm *DefaultLifecycleManager) stopRunning(ctx context.Context) error {
	var errs []error
	for i := len(lm.running) - 1; i >= 0; i-- {
		name := lm.running[i]
		lm.emit(EventServiceStopping, name, nil, nil)

		if err := lm.withTimeout(ctx, lm.services[name].service.Stop); err != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.emit(EventServiceStopFailed, name, err, nil)
			continue
		}
		lm.emit(EventServiceStopped, name, nil, nil)
	}
	lm.running = nil
	return errors.Join(errs...)
}

func (lm *DefaultLifecycleManager) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, lm.timeout)
	defer cancel()
	return fn(ctx)
}

// Health probes every service. A probe error is reported as unhealthy.
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	report := make(map[string]HealthStatus, len(lm.services))
	for name, reg := range lm.services {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		status, err := reg.service.Health(probeCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error(), LastCheck: time.Now()}
		}
		report[name] = status
	}
	return report, nil
}

// Services returns the registered names, sorted.
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (lm *DefaultLifecycleManager) Events() <-chan LifecycleEvent {
	return lm.events
}

func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// SetTimeout bounds each service Start and Stop call.
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.timeout = timeout
}

func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.started
}

// startOrder sorts services topologically (Kahn). Ties break by name so the
// order is stable between runs.
func (lm *DefaultLifecycleManager) startOrder() ([]string, error) {
	pending := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))

	for name, reg := range lm.services {
		pending[name] += 0
		for _, dep := range reg.deps {
			if _, ok := lm.services[dep]; !ok {
				return nil, fmt.Errorf("service %s depends on unregistered %s", name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			pending[name]++
		}
	}

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(lm.services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, d := range next {
			if pending[d]--; pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(lm.services) {
		return nil, errors.New("circular dependency between services")
	}
	return order, nil
}

// emit logs the event and fans it out. Caller holds mu.
func (lm *DefaultLifecycleManager) emit(typ, service string, err error, data map[string]any) {
	event := LifecycleEvent{Type: typ, Service: service, Timestamp: time.Now(), Error: err, Data: data}

	fields := []zap.Field{zap.String("event", typ)}
	if service != "" {
		fields = append(fields, zap.String("service", service))
	}
	if err != nil {
		lm.logger.Warn("lifecycle event", append(fields, zap.Error(err))...)
	} else {
		lm.logger.Debug("lifecycle event", fields...)
	}

	select {
	case lm.events <- event:
	default:
	}

	for _, l := range lm.listeners {
		go func(l func(LifecycleEvent)) {
			defer func() {
				if r := recover(); r != nil {
					lm.logger.Error("lifecycle listener panicked", zap.Any("panic", r))
				}
			}()
			l(event)
		}(l)
	}
}
