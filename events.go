package auth

import (
	"context"
	"fmt"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// EventSendAuthCode is emitted with (email, code) whenever a code is issued
const EventSendAuthCode = "send_auth_code"

// EventListener handles one emitted event
type EventListener func(ctx context.Context, args ...any) error

// EventEmitterFunc adapts a function to the EventEmitter interface.
type EventEmitterFunc func(ctx context.Context, event string, args ...any)

// Emit implements EventEmitter.
func (f EventEmitterFunc) Emit(ctx context.Context, event string, args ...any) {
	if f == nil {
		return
	}
	f(ctx, event, args...)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, string, ...any) {}

// AsyncEmitter runs every listener of an event on its own goroutine.
// Listener errors and panics are logged and never reach the emitter.
type AsyncEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventListener
	wg        sync.WaitGroup
	logger    Logger
}

var _ EventEmitter = (*AsyncEmitter)(nil)

// NewAsyncEmitter creates an emitter without listeners
func NewAsyncEmitter() *AsyncEmitter {
	return &AsyncEmitter{
		listeners: make(map[string][]EventListener),
		logger:    defLogger{},
	}
}

// WithLogger sets the logger
func (e *AsyncEmitter) WithLogger(logger Logger) *AsyncEmitter {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// On registers listener for event
func (e *AsyncEmitter) On(event string, listener EventListener) *AsyncEmitter {
	if listener == nil {
		return e
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], listener)
	return e
}

// Emit dispatches event and returns immediately
func (e *AsyncEmitter) Emit(ctx context.Context, event string, args ...any) {
	e.mu.RLock()
	listeners := append([]EventListener(nil), e.listeners[event]...)
	e.mu.RUnlock()

	if len(listeners) == 0 {
		e.logger.Debug("no listeners for event %s", event)
		return
	}

	// the caller's request may end before delivery does
	ctx = context.WithoutCancel(ctx)

	for _, l := range listeners {
		e.wg.Add(1)
		go func(l EventListener) {
			defer e.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("listener for %s panicked: %v", event, r)
				}
			}()
			if err := l(ctx, args...); err != nil {
				e.logger.Error("listener for %s failed: %v", event, err)
			}
		}(l)
	}
}

// Wait blocks until all in flight listeners return
func (e *AsyncEmitter) Wait() {
	e.wg.Wait()
}

// AuthCodeArgs unpacks the (email, code) arguments of EventSendAuthCode
func AuthCodeArgs(args ...any) (email, code string, err error) {
	if len(args) != 2 {
		return "", "", goerrors.New(
			fmt.Sprintf("%s expects 2 arguments, got %d", EventSendAuthCode, len(args)),
			goerrors.CategoryBadInput,
		).WithCode(goerrors.CodeBadRequest)
	}

	email, okEmail := args[0].(string)
	code, okCode := args[1].(string)
	if !okEmail || !okCode || email == "" || code == "" {
		return "", "", goerrors.New(
			fmt.Sprintf("%s expects (email, code) strings", EventSendAuthCode),
			goerrors.CategoryBadInput,
		).WithCode(goerrors.CodeBadRequest)
	}

	return email, code, nil
}
