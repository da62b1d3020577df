package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

type namedProbe struct {
	name  string
	probe Probe
}

// Checker runs every probe concurrently and reports healthy only when all pass.
type Checker struct {
	probes  []namedProbe
	timeout time.Duration
	logger  *zap.Logger
}

func NewChecker(timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{timeout: timeout, logger: logger}
}

// Add registers a probe under name and returns the checker for chaining.
func (c *Checker) Add(name string, probe Probe) *Checker {
	c.probes = append(c.probes, namedProbe{name: name, probe: probe})
	return c
}

// CheckHealth never returns an error for a failing probe; failures are
// reported in the status details. The error is reserved for a cancelled ctx.
func (c *Checker) CheckHealth(ctx context.Context) (models.HealthStatus, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		details = make(map[string]string, len(c.probes))
		healthy = true
	)

	g, gctx := errgroup.WithContext(probeCtx)
	for _, p := range c.probes {
		p := p
		g.Go(func() error {
			err := p.probe(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				details[p.name] = err.Error()
				c.logger.Warn("Health probe failed", zap.String("probe", p.name), zap.Error(err))
				return nil
			}
			details[p.name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return models.HealthStatus{}, err
	}
	return models.HealthStatus{IsHealthy: healthy, Details: details}, nil
}
