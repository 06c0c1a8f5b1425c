package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// CommandFunc handles one invoked command. Args arrive as raw JSON.
type CommandFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Memory is an in-process Bridge. Events publish synchronously in
// subscription order, which preserves the arrival-order guarantee the
// core relies on. It backs the tests and the simulator.
type Memory struct {
	mu       sync.Mutex
	closed   bool
	nextID   int
	subs     map[string]map[int]Handler
	commands map[string]CommandFunc
}

// NewMemory creates an empty in-process bridge.
func NewMemory() *Memory {
	return &Memory{
		subs:     make(map[string]map[int]Handler),
		commands: make(map[string]CommandFunc),
	}
}

// RegisterCommand installs the handler for a command name, replacing
// any previous registration.
func (m *Memory) RegisterCommand(name string, fn CommandFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[name] = fn
}

// Subscribe registers h for the named event.
func (m *Memory) Subscribe(event string, h Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.nextID
	m.nextID++
	if m.subs[event] == nil {
		m.subs[event] = make(map[int]Handler)
	}
	m.subs[event][id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[event], id)
	}, nil
}

// Publish delivers payload to every subscriber of event. Handlers run
// on the caller's goroutine so publish order equals delivery order.
func (m *Memory) Publish(event string, payload []byte) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	// Fan out in registration order so delivery stays deterministic.
	ids := make([]int, 0, len(m.subs[event]))
	for id := range m.subs[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, m.subs[event][id])
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

// PublishJSON marshals v and publishes it under event.
func (m *Memory) PublishJSON(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	m.Publish(event, payload)
	return nil
}

// Invoke dispatches the command to its registered handler.
func (m *Memory) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	fn, ok := m.commands[command]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown command: %s", command)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", command, err)
	}
	return fn(ctx, raw)
}

// Close drops all subscriptions and announces the disconnect. Safe to
// call more than once.
func (m *Memory) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	payload, _ := json.Marshal(ConnectionPayload{Connected: false})
	handlers := make([]Handler, 0, len(m.subs[EventConnection]))
	for _, h := range m.subs[EventConnection] {
		handlers = append(handlers, h)
	}
	m.closed = true
	m.subs = make(map[string]map[int]Handler)
	m.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}
