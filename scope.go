package sqlqueue

import (
	"context"
	"errors"
	"sync"
)

// Scope is a unit of work shared by every queue and outbox operation performed on
// its behalf. Components attach per-scope state with GetOrAdd and register commit
// and dispose hooks; the owner calls Complete on success and always calls Dispose.
//
// A scope created with NewEnlistedScope borrows an externally managed transaction:
// transports execute on that transaction and never commit or roll it back.
type Scope struct {
	mu          sync.Mutex
	ambient     Executor
	items       map[any]any
	pending     map[any]*pendingItem
	onCommitted []func(ctx context.Context) error
	onDisposed  []func()
	completed   bool
	disposed    bool
}

type ambientConnKey struct{}

type pendingItem struct {
	done  chan struct{}
	value any
	err   error
}

// NewScope creates a scope that owns the transactions opened on its behalf.
func NewScope() *Scope {
	return &Scope{}
}

// NewEnlistedScope creates a scope bound to a transaction managed by the caller,
// typically a *sql.Tx. Work done through the scope shares that transaction's fate.
func NewEnlistedScope(exec Executor) (*Scope, error) {
	if exec == nil {
		return nil, ErrExecutorRequired
	}

	return &Scope{ambient: exec}, nil
}

// Ambient returns the borrowed executor of an enlisted scope.
func (s *Scope) Ambient() (Executor, bool) {
	if s.ambient == nil {
		return nil, false
	}

	return s.ambient, true
}

// Enlisted reports whether the scope borrows an external transaction.
func (s *Scope) Enlisted() bool {
	return s.ambient != nil
}

// Get returns the value stored under key.
func (s *Scope) Get(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.items[key]

	return value, ok
}

// Add stores value under key. It returns false if key already holds a value
// or is being created by GetOrAdd.
func (s *Scope) Add(key, value any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return false, ErrScopeDisposed
	}
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	if _, ok := s.pending[key]; ok {
		return false, nil
	}
	if s.items == nil {
		s.items = make(map[any]any)
	}
	s.items[key] = value

	return true, nil
}

// GetOrAdd returns the value stored under key, calling create exactly once per key
// when it is missing. Concurrent callers for the same key wait for the first one.
// A failed create leaves the key unset. When the scope is disposed while create
// runs, the value is dropped and ErrScopeDisposed is returned; create must
// register its cleanup with OnDisposed.
func (s *Scope) GetOrAdd(key any, create func() (any, error)) (any, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()

		return nil, ErrScopeDisposed
	}
	if value, ok := s.items[key]; ok {
		s.mu.Unlock()

		return value, nil
	}
	if p, ok := s.pending[key]; ok {
		s.mu.Unlock()
		<-p.done

		return p.value, p.err
	}
	p := &pendingItem{done: make(chan struct{})}
	if s.pending == nil {
		s.pending = make(map[any]*pendingItem)
	}
	s.pending[key] = p
	s.mu.Unlock()

	p.value, p.err = create()

	s.mu.Lock()
	delete(s.pending, key)
	if p.err == nil && s.disposed {
		p.value, p.err = nil, ErrScopeDisposed
	}
	if p.err == nil {
		if s.items == nil {
			s.items = make(map[any]any)
		}
		s.items[key] = p.value
	}
	s.mu.Unlock()
	close(p.done)

	return p.value, p.err
}

// OnCommitted registers fn to run when the scope completes. Hooks run in
// registration order.
func (s *Scope) OnCommitted(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onCommitted = append(s.onCommitted, fn)
}

// OnDisposed registers fn to run when the scope is disposed. Hooks run in
// reverse registration order. On an already disposed scope fn runs immediately.
func (s *Scope) OnDisposed(fn func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		fn()

		return
	}
	s.onDisposed = append(s.onDisposed, fn)
	s.mu.Unlock()
}

// Complete runs the commit hooks. It stops at the first failing hook; whatever
// has not been committed is rolled back by Dispose.
func (s *Scope) Complete(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()

		return ErrScopeDisposed
	}
	if s.completed {
		s.mu.Unlock()

		return ErrScopeCompleted
	}
	s.completed = true
	hooks := append([]func(context.Context) error(nil), s.onCommitted...)
	s.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Completed reports whether Complete has been called.
func (s *Scope) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.completed
}

// Dispose runs the dispose hooks once. Calling it again is a no-op.
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()

		return
	}
	s.disposed = true
	hooks := s.onDisposed
	s.onDisposed = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Run executes fn inside a new owned scope, completing it when fn succeeds and
// disposing it on every path.
func Run(ctx context.Context, fn func(ctx context.Context, scope *Scope) error) error {
	scope := NewScope()
	defer scope.Dispose()

	if err := fn(ctx, scope); err != nil {
		return err
	}

	return scope.Complete(ctx)
}

// ScopeConn returns the connection bound to scope under key, opening it with
// open on first use. The connection is committed when the scope completes and
// closed when it is disposed. Enlisted scopes borrow their ambient executor
// instead of calling open, and every caller shares that one connection.
func ScopeConn(ctx context.Context, scope *Scope, key any, open func(ctx context.Context) (*Conn, error)) (*Conn, error) {
	if scope == nil {
		return nil, ErrScopeRequired
	}
	if scope.Enlisted() {
		key = ambientConnKey{}
	}

	value, err := scope.GetOrAdd(key, func() (any, error) {
		if exec, ok := scope.Ambient(); ok {
			return BorrowConn(exec), nil
		}

		conn, err := open(ctx)
		if err != nil {
			return nil, err
		}
		scope.OnCommitted(func(context.Context) error {
			return conn.Commit()
		})
		scope.OnDisposed(func() {
			_ = conn.Close()
		})

		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	conn, ok := value.(*Conn)
	if !ok {
		return nil, errors.New("sqlqueue: scope item is not a connection")
	}

	return conn, nil
}
