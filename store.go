package apiflow

import (
	"context"
	"iter"
	"sync"
)

// Store owns a state value that changes only by reducing actions.
// Dispatched actions run through the store middleware first; every action that
// reaches the end of the chain is reduced under a lock, so applies are serialized.
// Subscribers receive the latest snapshot and may skip intermediate ones.
//
// Example:
//
//	api, _ := apiflow.CreateAPI(cfg)
//	pipeline := apiflow.NewPipeline(api)
//	store := apiflow.NewStore(apiflow.CreateReducer(api), nil, pipeline.Middleware())
//	pipeline.WithStateReader(store.Reader())
//
//	actions := apiflow.CreateActions(api)
//	store.Dispatch(ctx, actions.Endpoints["login"](creds))
type Store[S any] struct {
	mu          sync.RWMutex
	state       S
	reducer     Reducer[S]
	dispatch    Dispatch
	subscribers map[int64]chan S
	nextSubID   int64
}

// NewStore creates a store with the given reducer, initial state and middleware.
// The first middleware is the outermost.
func NewStore[S any](reducer Reducer[S], initial S, middlewares ...Middleware) *Store[S] {
	s := &Store[S]{
		state:       initial,
		reducer:     reducer,
		subscribers: make(map[int64]chan S),
	}
	s.dispatch = Chain(middlewares...)(func(_ context.Context, action any) any {
		s.Apply(action)
		return action
	})
	return s
}

// Dispatch sends an action through the middleware chain and returns the chain's result.
func (s *Store[S]) Dispatch(ctx context.Context, action any) any {
	return s.dispatch(ctx, action)
}

// Apply reduces one action directly, bypassing middleware, and returns the new state.
func (s *Store[S]) Apply(action any) S {
	s.mu.Lock()
	s.state = s.reducer(s.state, action)
	state := s.state
	subs := make([]chan S, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	// Broadcast outside lock with non-blocking sends
	for _, ch := range subs {
		select {
		case ch <- state:
		default:
			// Channel full - drain old value and send new (latest-wins)
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
	return state
}

// Get returns the current state.
func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reader returns a StateReader for Pipeline.WithStateReader.
func (s *Store[S]) Reader() StateReader {
	return func() any { return s.Get() }
}

// Subscribe returns an iterator that yields the current state and all future
// snapshots until ctx is canceled.
func (s *Store[S]) Subscribe(ctx context.Context) iter.Seq[S] {
	return func(yield func(S) bool) {
		ch := make(chan S, 1)
		id := s.addSubscriber(ch)
		defer s.removeSubscriber(id)

		if !yield(s.Get()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case state := <-ch:
				if !yield(state) {
					return
				}
			}
		}
	}
}

func (s *Store[S]) addSubscriber(ch chan S) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	return id
}

func (s *Store[S]) removeSubscriber(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}
