package queue

import (
	"context"
	"errors"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ErrClosed is returned when publishing to a transport that was closed.
var ErrClosed = errors.New("queue: transport closed")

// DeliveryFunc processes one delivered task. A non-nil error asks the
// transport to redeliver the task later.
type DeliveryFunc func(ctx context.Context, task model.SendTask) error

// Transport moves send tasks from the dispatcher to the workers.
type Transport interface {
	// Publish hands the task over for delivery no earlier than task.Delay
	// from now.
	Publish(ctx context.Context, task model.SendTask) error
	// Consume delivers tasks to fn until ctx is done or the transport is
	// closed. It blocks.
	Consume(ctx context.Context, fn DeliveryFunc) error
	Close() error
}

// durable is implemented by transports whose undelivered tasks outlive
// the process that published them.
type durable interface {
	Durable() bool
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the executor does not retry the task.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
