package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Named components show up under their own name in logs and errors.
type Named interface {
	Name() string
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	mu         sync.Mutex
	components []Component
	started    []Component
	logger     *log.Entry
}

func NewRuntime(components ...Component) *Runtime {
	r := &Runtime{logger: log.WithField("component", "lifecycle")}
	for _, c := range components {
		r.Register(c)
	}
	return r
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, component)
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, component := range r.components {
		name := nameOf(component)
		if err := component.Start(ctx); err != nil {
			r.logger.WithError(err).WithField("name", name).Error("component failed to start")
			_ = r.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", name, err)
		}
		r.logger.WithField("name", name).Debug("component started")
		r.started = append(r.started, component)
	}
	return nil
}

// Stop stops whatever was started. Calling it twice is a no-op.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopStarted(ctx)
}

func (r *Runtime) stopStarted(ctx context.Context) error {
	var stopErr error
	for i := len(r.started) - 1; i >= 0; i-- {
		component := r.started[i]
		name := nameOf(component)
		if err := component.Stop(ctx); err != nil {
			r.logger.WithError(err).WithField("name", name).Warn("component failed to stop")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		r.logger.WithField("name", name).Debug("component stopped")
	}
	r.started = nil
	return stopErr
}

func nameOf(c Component) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}
