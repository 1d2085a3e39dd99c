package chain

import "sync"

// Subscription is an ordered, cancellable stream of values produced by a
// Connection. Producers close the values channel once the stream ends,
// including after Unsubscribe. At most one error is delivered on Err.
type Subscription[T any] struct {
	values <-chan T
	errs   <-chan error
	stop   func()
	once   sync.Once
}

// NewSubscription wraps producer channels. stop is called once on Unsubscribe
// and may be nil.
func NewSubscription[T any](values <-chan T, errs <-chan error, stop func()) *Subscription[T] {
	return &Subscription[T]{values: values, errs: errs, stop: stop}
}

func (s *Subscription[T]) Values() <-chan T { return s.values }

func (s *Subscription[T]) Err() <-chan error { return s.errs }

// Unsubscribe stops the producer. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}
