package ingress

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/pkg/logger"
	"clientflow.io/flow/internal/pkg/worker"
)

// PullProcessor produces a finite lazy sequence of raw events once per
// tick. Each element runs through the same EventProcessor → publish path
// as Push; a per-element validation failure is logged and skipped, never
// aborting the rest of the tick (spec.md §4.4, §8).
type PullProcessor interface {
	GetData(ctx context.Context) iter.Seq[any]
}

// PullProcessorFunc adapts a plain function to PullProcessor.
type PullProcessorFunc func(ctx context.Context) iter.Seq[any]

// GetData implements PullProcessor.
func (f PullProcessorFunc) GetData(ctx context.Context) iter.Seq[any] { return f(ctx) }

// PullScheduler drives a PullProcessor on a fixed interval, farming out
// each tick's elements onto the engine worker pool so one slow element
// never stalls the ticker.
type PullScheduler struct {
	pool      *worker.Pool
	publisher *publisher

	queue     string
	interval  time.Duration
	pull      PullProcessor
	process   EventProcessor

	ticker *time.Ticker
	done   chan struct{}
}

// NewPullScheduler wires a PullScheduler. interval is the tick period;
// queue is the broker queue published events are sent to.
func NewPullScheduler(pool *worker.Pool, brokerClient *broker.Client, queue string, interval time.Duration, pull PullProcessor, process EventProcessor) *PullScheduler {
	return &PullScheduler{
		pool:      pool,
		publisher: newPublisher(brokerClient, queue),
		queue:     queue,
		interval:  interval,
		pull:      pull,
		process:   process,
		done:      make(chan struct{}),
	}
}

// Start begins ticking in a background goroutine; it returns
// immediately. Stop (or ctx cancellation) ends the loop.
func (s *PullScheduler) Start(ctx context.Context) {
	s.ticker = time.NewTicker(s.interval)
	go func() {
		defer s.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.ticker.C:
				s.runTick(ctx)
			}
		}
	}()
}

// Stop ends the ticking loop started by Start.
func (s *PullScheduler) Stop() {
	close(s.done)
}

func (s *PullScheduler) runTick(ctx context.Context) {
	for raw := range s.pull.GetData(ctx) {
		element := raw
		task := func(ctx context.Context) {
			events, err := s.process.ProcessEvent(ctx, element)
			if err != nil {
				logSkippedValidationFailure("pull:"+s.queue, err)
				return
			}
			for _, event := range events {
				if err := s.publisher.publish(ctx, event); err != nil {
					logger.Error("ingress: pull publish failed",
						zap.String("queue", s.queue), zap.Error(err))
				}
			}
		}
		if err := s.pool.Submit(ctx, task); err != nil {
			logger.Error("ingress: pull task submission failed",
				zap.String("queue", s.queue), zap.Error(err))
		}
	}
}
