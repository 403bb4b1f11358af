package connection

import (
	"fmt"
	"log/slog"
	"sync"
)

// hook is a registered callback with the id used to remove it.
type hook[T any] struct {
	id uint64
	fn T
}

// without returns a copy of list minus the hook with id. Dispatch snapshots
// never see a slice being modified in place.
func without[T any](list []hook[T], id uint64) []hook[T] {
	out := make([]hook[T], 0, len(list))
	for _, h := range list {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}

// subscriptions maps message types to handlers and holds the lifecycle callbacks.
type subscriptions struct {
	logger *slog.Logger

	mu         sync.RWMutex
	nextID     uint64
	byType     map[string][]hook[Handler]
	raw        []hook[RawHandler]
	connect    []hook[func()]
	disconnect []hook[func(DisconnectEvent)]
	errors     []hook[func(error)]
}

func newSubscriptions(logger *slog.Logger) *subscriptions {
	if logger == nil {
		logger = slog.Default()
	}
	return &subscriptions{
		logger: logger,
		byType: make(map[string][]hook[Handler]),
	}
}

// on registers h for msgType. Handlers run in registration order.
func (s *subscriptions) on(msgType string, h Handler) Unsubscribe {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.byType[msgType] = append(s.byType[msgType], hook[Handler]{id: id, fn: h})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			remaining := without(s.byType[msgType], id)
			if len(remaining) == 0 {
				delete(s.byType, msgType)
				return
			}
			s.byType[msgType] = remaining
		})
	}
}

// addHook appends fn to the list selected by pick and returns its remover.
func addHook[T any](s *subscriptions, pick func(*subscriptions) *[]hook[T], fn T) Unsubscribe {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	list := pick(s)
	*list = append(*list, hook[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			list := pick(s)
			*list = without(*list, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscriptions) onRaw(h RawHandler) Unsubscribe {
	return addHook(s, func(s *subscriptions) *[]hook[RawHandler] { return &s.raw }, h)
}

func (s *subscriptions) onConnect(h func()) Unsubscribe {
	return addHook(s, func(s *subscriptions) *[]hook[func()] { return &s.connect }, h)
}

func (s *subscriptions) onDisconnect(h func(DisconnectEvent)) Unsubscribe {
	return addHook(s, func(s *subscriptions) *[]hook[func(DisconnectEvent)] { return &s.disconnect }, h)
}

func (s *subscriptions) onError(h func(error)) Unsubscribe {
	return addHook(s, func(s *subscriptions) *[]hook[func(error)] { return &s.errors }, h)
}

// count returns the number of handlers registered for msgType.
func (s *subscriptions) count(msgType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byType[msgType])
}

// dispatch delivers msg to its type handlers, then to wildcard handlers.
// A failing handler is reported and never stops the remaining ones.
func (s *subscriptions) dispatch(msg Message) {
	s.mu.RLock()
	typed := s.byType[msg.Type]
	var wild []hook[Handler]
	if msg.Type != WildcardType {
		wild = s.byType[WildcardType]
	}
	s.mu.RUnlock()

	for _, h := range typed {
		s.invoke(msg, h.fn)
	}
	for _, h := range wild {
		s.invoke(msg, h.fn)
	}
}

func (s *subscriptions) invoke(msg Message, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.emitError(&HandlerError{Type: msg.Type, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if err := h(msg); err != nil {
		s.emitError(&HandlerError{Type: msg.Type, Err: err})
	}
}

func (s *subscriptions) emitRaw(frame RawFrame) {
	s.mu.RLock()
	hooks := s.raw
	s.mu.RUnlock()

	for _, h := range hooks {
		s.safely("raw", func() { h.fn(frame) })
	}
}

func (s *subscriptions) emitConnect() {
	s.mu.RLock()
	hooks := s.connect
	s.mu.RUnlock()

	for _, h := range hooks {
		s.safely("connect", h.fn)
	}
}

func (s *subscriptions) emitDisconnect(ev DisconnectEvent) {
	s.mu.RLock()
	hooks := s.disconnect
	s.mu.RUnlock()

	for _, h := range hooks {
		s.safely("disconnect", func() { h.fn(ev) })
	}
}

func (s *subscriptions) emitError(err error) {
	s.mu.RLock()
	hooks := s.errors
	s.mu.RUnlock()

	for _, h := range hooks {
		s.safely("error", func() { h.fn(err) })
	}
}

// safely runs a lifecycle callback, logging instead of crashing the caller's goroutine.
func (s *subscriptions) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "callback", kind, "panic", r)
		}
	}()
	fn()
}
