package sqlqueue

import "context"

// Transport moves envelopes between queues. Both operations run on the
// connection bound to scope.
type Transport interface {
	// Send enqueues env for destination as part of scope.
	Send(ctx context.Context, destination string, env Envelope, scope *Scope) error
	// Receive claims the next eligible message of the transport's input queue.
	// It returns a nil envelope and a nil error when nothing is eligible.
	Receive(ctx context.Context, scope *Scope) (*Envelope, error)
}

// TransportFuncs adapts a pair of functions to Transport.
type TransportFuncs struct {
	SendFunc    func(ctx context.Context, destination string, env Envelope, scope *Scope) error
	ReceiveFunc func(ctx context.Context, scope *Scope) (*Envelope, error)
}

// Send implements Transport.
func (t TransportFuncs) Send(ctx context.Context, destination string, env Envelope, scope *Scope) error {
	return t.SendFunc(ctx, destination, env, scope)
}

// Receive implements Transport. A nil ReceiveFunc never yields a message.
func (t TransportFuncs) Receive(ctx context.Context, scope *Scope) (*Envelope, error) {
	if t.ReceiveFunc == nil {
		return nil, nil
	}

	return t.ReceiveFunc(ctx, scope)
}

// ExpiredDeleter removes expired queue rows in bounded passes.
type ExpiredDeleter interface {
	// DeleteExpired deletes at most limit expired rows and returns how many were removed.
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}
