package broker

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/pkg/logger"
)

// Handler processes the body published to one queue/topic. The rule
// engine and the integration framework each register a Handler for the
// queues their respective Rules own.
type Handler func(ctx context.Context, queue string, body []byte) error

// Router dispatches an incoming sendJobArgs job to the Handler registered
// for its queue. Unrecognized queues are a configuration error, not a
// transient failure, so the job is cancelled rather than retried.
type Router struct {
	handlers map[string]Handler
}

// NewRouter builds an empty Router; queues are wired with Register before
// the River client starts working jobs.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register binds queue to handler. Registering the same queue twice
// replaces the prior handler.
func (r *Router) Register(queue string, handler Handler) {
	r.handlers[queue] = handler
}

// Registered reports whether a handler has been bound to queue.
func (r *Router) Registered(queue string) bool {
	_, ok := r.handlers[queue]
	return ok
}

// queueWorker adapts a Router to river.Worker[sendJobArgs]. sendJobArgs is
// unexported, so the worker implementation must live in this package —
// callers only ever see the Router and RegisterWorker.
type queueWorker struct {
	river.WorkerDefaults[sendJobArgs]
	router *Router
}

// Work dispatches job.Args.Body to the handler registered for
// job.Args.Queue.
func (w *queueWorker) Work(ctx context.Context, job *river.Job[sendJobArgs]) error {
	handler, ok := w.router.handlers[job.Args.Queue]
	if !ok {
		return river.JobCancel(fmt.Errorf("broker: no handler registered for queue %s", job.Args.Queue))
	}
	if err := handler(ctx, job.Args.Queue, job.Args.Body); err != nil {
		logger.Warn("broker: queue handler failed",
			zap.String("queue", job.Args.Queue), zap.Int("attempt", job.Attempt), zap.Error(err))
		return err
	}
	return nil
}

// RegisterWorker wires router into workers as the sole consumer of
// broker-produced jobs, ready to pass to river.NewClient's Config.Workers.
func RegisterWorker(workers *river.Workers, router *Router) {
	river.AddWorker(workers, &queueWorker{router: router})
}
