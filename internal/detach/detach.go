// Package detach runs fire-and-forget side effects whose failures are logged
// and counted instead of returned. Callers accept that a failed task is lost.
package detach

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/metrics"
)

// Group tracks detached tasks so shutdown can drain them.
type Group struct {
	logger  *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates a group whose tasks each run under timeout.
func NewGroup(log *logger.Logger, timeout time.Duration) *Group {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Group{logger: log, timeout: timeout}
}

// Go runs fn in the background. The task keeps ctx's values but not its
// cancellation, so it outlives the request that started it.
func (g *Group) Go(ctx context.Context, operation string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				metrics.DetachedWriteFailuresTotal.WithLabelValues(operation).Inc()
				g.logger.Error("detached task panicked",
					zap.String("operation", operation),
					zap.Any("panic", r),
				)
			}
		}()

		if err := fn(taskCtx); err != nil {
			metrics.DetachedWriteFailuresTotal.WithLabelValues(operation).Inc()
			g.logger.Warn("detached task failed",
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every started task finished or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
