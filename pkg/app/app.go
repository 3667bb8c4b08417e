// Package app owns the worker process state: startup checks, the background
// loop and its join point, and the status reported on /health.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/imalyk/go-mood-tagger/pkg/captioner"
	"github.com/imalyk/go-mood-tagger/pkg/health"
	"github.com/imalyk/go-mood-tagger/pkg/queue"
	"github.com/imalyk/go-mood-tagger/pkg/worker"
)

var ErrAlreadyStarted = errors.New("worker loop already started")

// Loop is the background consumer started by App.
type Loop interface {
	Run(ctx context.Context) error
	State() worker.State
}

type Config struct {
	Backend   string
	QueueName string
}

type App struct {
	cfg       Config
	queue     queue.Queue
	captioner captioner.Captioner
	loop      Loop
	logger    *slog.Logger

	modelLoaded atomic.Bool
	started     atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, q queue.Queue, c captioner.Captioner, loop Loop, logger *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		queue:     q,
		captioner: c,
		loop:      loop,
		logger:    logger,
	}
}

// Start checks the captioner and the queue, then launches the loop. On error
// the loop is not started and the app keeps reporting unhealthy.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return ErrAlreadyStarted
	}

	if err := a.captioner.Ready(ctx); err != nil {
		return fmt.Errorf("captioner not ready: %w", err)
	}
	a.modelLoaded.Store(true)
	a.logger.Info("captioner ready")

	if err := a.queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue unreachable: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	go func() {
		defer close(done)
		if err := a.loop.Run(loopCtx); err != nil {
			a.logger.Error("worker loop stopped with error", "error", err)
		}
	}()

	a.started.Store(true)
	a.logger.Info("worker started", "queue", a.cfg.QueueName, "backend", a.cfg.Backend)
	return nil
}

// Shutdown cancels the loop and waits for it to stop, or for ctx to end.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		a.logger.Info("worker loop joined")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker loop: %w", ctx.Err())
	}
}

func (a *App) ModelLoaded() bool {
	return a.modelLoaded.Load()
}

func (a *App) Status(ctx context.Context) health.Report {
	queueStatus := health.QueueDisconnected
	if a.queue != nil {
		if err := a.queue.Ping(ctx); err != nil {
			queueStatus = health.QueueError
		} else {
			queueStatus = health.QueueConnected
		}
	}

	status := health.StatusUnhealthy
	if a.started.Load() && a.ModelLoaded() && queueStatus == health.QueueConnected {
		status = health.StatusHealthy
	}

	return health.Report{
		Status:      status,
		ModelLoaded: a.ModelLoaded(),
		QueueStatus: queueStatus,
		Backend:     a.cfg.Backend,
		Queue:       a.cfg.QueueName,
		WorkerState: a.loop.State().String(),
	}
}
