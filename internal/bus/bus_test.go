package bus

import (
	"testing"

	"go.uber.org/zap"
)

func TestSubscribeTaskReceivesAllTaskEvents(t *testing.T) {
	b := New(zap.NewNop())

	var got []Event
	unsub := b.SubscribeTask("t1", func(ev Event) {
		got = append(got, ev)
	})
	defer unsub()

	for _, et := range TaskEventTypes {
		b.Publish("t1", et, map[string]interface{}{"n": 1})
	}

	if len(got) != len(TaskEventTypes) {
		t.Fatalf("expected %d events, got %d", len(TaskEventTypes), len(got))
	}
	for i, ev := range got {
		if ev.Type != TaskEventTypes[i] {
			t.Errorf("event %d: expected %s, got %s", i, TaskEventTypes[i], ev.Type)
		}
		if ev.TaskID != "t1" {
			t.Errorf("event %d: expected task t1, got %s", i, ev.TaskID)
		}
	}
}

func TestPublishScopedToTask(t *testing.T) {
	b := New(zap.NewNop())

	var t1Count, t2Count int
	defer b.SubscribeTask("t1", func(Event) { t1Count++ })()
	defer b.SubscribeTask("t2", func(Event) { t2Count++ })()

	b.Publish("t1", "task:status_changed", nil)
	b.Publish("t1", "execution:started", nil)
	b.Publish("t2", "task:status_changed", nil)

	if t1Count != 2 {
		t.Errorf("expected 2 events for t1, got %d", t1Count)
	}
	if t2Count != 1 {
		t.Errorf("expected 1 event for t2, got %d", t2Count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(zap.NewNop())

	count := 0
	unsub := b.SubscribeTask("t1", func(Event) { count++ })

	b.Publish("t1", "task:log_added", nil)
	unsub()
	unsub() // second call is a no-op
	b.Publish("t1", "task:log_added", nil)

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if b.HasSubscribers("t1") {
		t.Error("expected no subscribers after unsubscribe")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New(zap.NewNop())

	if b.SubscriberCount("t1") != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount("t1"))
	}

	u1 := b.SubscribeTask("t1", func(Event) {})
	u2 := b.SubscribeTask("t1", func(Event) {})

	if b.SubscriberCount("t1") != 2 {
		t.Errorf("expected 2 subscribers, got %d", b.SubscriberCount("t1"))
	}

	u1()
	if b.SubscriberCount("t1") != 1 {
		t.Errorf("expected 1 subscriber, got %d", b.SubscriberCount("t1"))
	}
	u2()
	if b.HasSubscribers("t1") {
		t.Error("expected no subscribers left")
	}
}

func TestGlobalSubscriberSeesEveryTask(t *testing.T) {
	b := New(zap.NewNop())

	var events []Event
	defer b.Subscribe("execution:completed", func(ev Event) {
		events = append(events, ev)
	})()

	b.Publish("t1", "execution:completed", map[string]interface{}{"steps": 5})
	b.Publish("t2", "execution:completed", nil)
	b.Publish("t3", "execution:started", nil) // different type, not delivered

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Global listeners get the task id merged into the payload.
	if events[0].Data["task_id"] != "t1" {
		t.Errorf("expected task_id t1 in payload, got %v", events[0].Data["task_id"])
	}
	if events[0].Data["steps"] != 5 {
		t.Errorf("expected original payload preserved, got %v", events[0].Data)
	}
	if events[1].Data["task_id"] != "t2" {
		t.Errorf("expected task_id t2 in payload, got %v", events[1].Data["task_id"])
	}
}

func TestGlobalMergeDoesNotMutateOriginal(t *testing.T) {
	b := New(zap.NewNop())
	defer b.Subscribe("task:updated", func(Event) {})()

	data := map[string]interface{}{"field": "branch"}
	b.Publish("t1", "task:updated", data)

	if _, ok := data["task_id"]; ok {
		t.Error("expected publisher's payload to stay untouched")
	}
}

func TestSubscribeRejectsForeignNamespace(t *testing.T) {
	b := New(zap.NewNop())

	called := false
	unsub := b.Subscribe("metrics:tick", func(Event) { called = true })
	unsub() // no-op closure

	b.Publish("t1", "metrics:tick", nil)

	if called {
		t.Error("expected no delivery for rejected namespace")
	}
}

func TestTaskAndGlobalBothDelivered(t *testing.T) {
	b := New(zap.NewNop())

	var scoped, global int
	defer b.SubscribeTask("t1", func(Event) { scoped++ })()
	defer b.Subscribe("task:status_changed", func(Event) { global++ })()

	b.Publish("t1", "task:status_changed", nil)

	if scoped != 1 || global != 1 {
		t.Errorf("expected one delivery each, scoped=%d global=%d", scoped, global)
	}
}
