// Package bus is a typed in-process publish/subscribe mechanism for
// task lifecycle and execution events, scoped per task or globally.
package bus

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Event is what subscribers receive.
type Event struct {
	Type   string
	TaskID string
	Data   map[string]interface{}
}

// Handler consumes published events.
type Handler func(Event)

// TaskEventTypes are the event types a task-scoped subscription covers:
// every type in the task: and execution: namespaces.
var TaskEventTypes = []string{
	"task:status_changed",
	"task:log_added",
	"task:updated",
	"execution:started",
	"execution:stage_started",
	"execution:stage_completed",
	"execution:stage_failed",
	"execution:completed",
	"execution:failed",
}

// globalScope is the registry key for listeners not bound to a task.
const globalScope = ""

// Bus fans events out through an explicit two-level registry:
// event type → task id → subscriber handles.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]map[int]Handler
	perTask  map[string]map[int]struct{} // task id → handles subscribed to it
	next     int
	logger   *zap.Logger
}

// New creates an empty Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string]map[string]map[int]Handler),
		perTask:  make(map[string]map[int]struct{}),
		logger:   logger,
	}
}

// Publish delivers the event to listeners registered for (eventType,
// taskID) and to global listeners of eventType. Global listeners
// receive the task id merged into the payload.
func (b *Bus) Publish(taskID, eventType string, data map[string]interface{}) {
	b.mu.RLock()
	scoped := collect(b.handlers[eventType], taskID)
	global := collect(b.handlers[eventType], globalScope)
	b.mu.RUnlock()

	for _, h := range scoped {
		h(Event{Type: eventType, TaskID: taskID, Data: data})
	}

	if len(global) > 0 {
		merged := make(map[string]interface{}, len(data)+1)
		for k, v := range data {
			merged[k] = v
		}
		merged["task_id"] = taskID
		for _, h := range global {
			h(Event{Type: eventType, TaskID: taskID, Data: merged})
		}
	}
}

// SubscribeTask registers fn for every task: and execution: event type,
// scoped to taskID. The returned function is the only way to remove the
// registration; calling it more than once is harmless.
func (b *Bus) SubscribeTask(taskID string, fn Handler) func() {
	b.mu.Lock()
	handle := b.next
	b.next++

	for _, et := range TaskEventTypes {
		byTask, ok := b.handlers[et]
		if !ok {
			byTask = make(map[string]map[int]Handler)
			b.handlers[et] = byTask
		}
		set, ok := byTask[taskID]
		if !ok {
			set = make(map[int]Handler)
			byTask[taskID] = set
		}
		set[handle] = fn
	}

	if b.perTask[taskID] == nil {
		b.perTask[taskID] = make(map[int]struct{})
	}
	b.perTask[taskID][handle] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(taskID, handle) })
	}
}

// Subscribe registers a global listener for one event type. Only event
// types in the task: or execution: namespaces are accepted.
func (b *Bus) Subscribe(eventType string, fn Handler) func() {
	if !strings.HasPrefix(eventType, "task:") && !strings.HasPrefix(eventType, "execution:") {
		return func() {}
	}

	b.mu.Lock()
	handle := b.next
	b.next++
	byTask, ok := b.handlers[eventType]
	if !ok {
		byTask = make(map[string]map[int]Handler)
		b.handlers[eventType] = byTask
	}
	set, ok := byTask[globalScope]
	if !ok {
		set = make(map[int]Handler)
		byTask[globalScope] = set
	}
	set[handle] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.removeHandle(eventType, globalScope, handle)
		})
	}
}

// SubscriberCount reports how many task-scoped subscriptions exist for
// the task id.
func (b *Bus) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.perTask[taskID])
}

// HasSubscribers reports whether any task-scoped subscription exists
// for the task id.
func (b *Bus) HasSubscribers(taskID string) bool {
	return b.SubscriberCount(taskID) > 0
}

func (b *Bus) unsubscribe(taskID string, handle int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, et := range TaskEventTypes {
		b.removeHandle(et, taskID, handle)
	}
	if set, ok := b.perTask[taskID]; ok {
		delete(set, handle)
		if len(set) == 0 {
			delete(b.perTask, taskID)
		}
	}
}

// removeHandle deletes one handle and prunes empty levels so the
// registry never leaks empty sets. Caller holds the write lock.
func (b *Bus) removeHandle(eventType, taskID string, handle int) {
	byTask, ok := b.handlers[eventType]
	if !ok {
		return
	}
	set, ok := byTask[taskID]
	if !ok {
		return
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(byTask, taskID)
	}
	if len(byTask) == 0 {
		delete(b.handlers, eventType)
	}
}

// collect snapshots the handlers for one (event type, scope) pair.
func collect(byTask map[string]map[int]Handler, scope string) []Handler {
	if byTask == nil {
		return nil
	}
	set := byTask[scope]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}
