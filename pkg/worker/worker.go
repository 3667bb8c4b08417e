// Package worker runs the queue consumption loop: pop one job, process it,
// publish its result, repeat until cancelled.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/imalyk/go-mood-tagger/pkg/job"
	"github.com/imalyk/go-mood-tagger/pkg/metrics"
	"github.com/imalyk/go-mood-tagger/pkg/queue"
)

const (
	DefaultQueueName     = "mood-analysis-queue"
	DefaultResultChannel = "mood-results"
	DefaultPollTimeout   = 30 * time.Second
	DefaultErrorBackoff  = 5 * time.Second

	publishTimeout = 10 * time.Second
)

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateWaiting
	StateDispatching
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateWaiting:
		return "waiting"
	case StateDispatching:
		return "dispatching"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is what a single loop iteration amounted to.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeMalformed
	OutcomePublished
	OutcomePublishFailed
	OutcomeTransport
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeMalformed:
		return "malformed"
	case OutcomePublished:
		return "published"
	case OutcomePublishFailed:
		return "publish_failed"
	case OutcomeTransport:
		return "transport"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type JobProcessor interface {
	Process(ctx context.Context, j job.Job) job.Result
}

type Config struct {
	QueueName     string
	ResultChannel string
	PollTimeout   time.Duration
	ErrorBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueName == "" {
		c.QueueName = DefaultQueueName
	}
	if c.ResultChannel == "" {
		c.ResultChannel = DefaultResultChannel
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	return c
}

type Worker struct {
	cfg    Config
	queue  queue.Queue
	proc   JobProcessor
	logger *slog.Logger
	state  atomic.Int32
}

func New(cfg Config, q queue.Queue, proc JobProcessor, logger *slog.Logger) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:    cfg,
		queue:  q,
		proc:   proc,
		logger: logger.With("queue", cfg.QueueName),
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Running reports whether the loop is consuming jobs.
func (w *Worker) Running() bool {
	s := w.State()
	return s == StateWaiting || s == StateDispatching
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run loops until ctx is cancelled. Transport and publish failures are
// logged and followed by the error backoff; they never end the loop.
// Cancellation is a clean stop and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateStarting)
	defer w.setState(StateStopped)

	w.logger.Info("starting worker loop", "poll_timeout", w.cfg.PollTimeout, "result_channel", w.cfg.ResultChannel)

	for {
		outcome, err := w.Step(ctx)
		switch outcome {
		case OutcomeCancelled:
			w.setState(StateStopping)
			w.logger.Info("worker loop stopping")
			return nil
		case OutcomeMalformed:
			w.logger.Warn("dropped malformed job payload", "error", err)
		case OutcomeTransport:
			w.logger.Error("failed to pop from queue", "error", err, "backoff", w.cfg.ErrorBackoff)
			if !w.backoff(ctx) {
				w.setState(StateStopping)
				return nil
			}
		case OutcomePublishFailed:
			w.logger.Error("failed to publish result", "error", err, "backoff", w.cfg.ErrorBackoff)
			if !w.backoff(ctx) {
				w.setState(StateStopping)
				return nil
			}
		}
	}
}

// Step runs one iteration. Once a job has been dispatched it is processed and
// published even if ctx is cancelled meanwhile.
func (w *Worker) Step(ctx context.Context) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeCancelled, nil
	}
	w.setState(StateWaiting)

	payload, ok, err := w.queue.BlockingPop(ctx, w.cfg.QueueName, w.cfg.PollTimeout)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return OutcomeCancelled, nil
		}
		metrics.QueueErrorsTotal.Inc()
		return OutcomeTransport, fmt.Errorf("pop job: %w", err)
	}
	if !ok {
		return OutcomeIdle, nil
	}
	metrics.JobsReceivedTotal.Inc()

	j, err := job.Decode(payload)
	if err != nil {
		metrics.JobsMalformedTotal.Inc()
		return OutcomeMalformed, err
	}

	w.setState(StateDispatching)
	jobCtx := context.WithoutCancel(ctx)

	jl := w.logger.With("request_id", j.ResultID(), "file_name", j.FileName)
	if at, ok := j.EnqueuedAt(); ok {
		latency := time.Since(at)
		metrics.QueueLatencySeconds.Observe(latency.Seconds())
		jl.Info("received job", "queue_latency", latency)
	} else {
		jl.Info("received job")
	}

	start := time.Now()
	res := w.proc.Process(jobCtx, j)
	metrics.JobDurationSeconds.Observe(time.Since(start).Seconds())
	metrics.JobsProcessedTotal.WithLabelValues(strconv.FormatBool(res.Success)).Inc()

	if err := w.publish(jobCtx, res); err != nil {
		metrics.PublishErrorsTotal.Inc()
		return OutcomePublishFailed, err
	}
	jl.Info("published result", "success", res.Success)
	return OutcomePublished, nil
}

func (w *Worker) publish(ctx context.Context, res job.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", res.RequestID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := w.queue.Publish(ctx, w.cfg.ResultChannel, body); err != nil {
		return fmt.Errorf("publish result %s: %w", res.RequestID, err)
	}
	return nil
}

// backoff waits out the error backoff. It returns false if ctx ended first.
func (w *Worker) backoff(ctx context.Context) bool {
	t := time.NewTimer(w.cfg.ErrorBackoff)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
