// Package notify posts task stage transitions to chat channels. Every
// notifier is a global event bus observer; send failures are logged and
// never propagate into the pipeline.
package notify

import (
	"fmt"

	"github.com/ospreylabs/conduct/internal/bus"
)

// watchedEvents are the bus event types a notifier relays.
var watchedEvents = []string{
	"execution:started",
	"execution:stage_completed",
	"execution:stage_failed",
	"execution:completed",
	"execution:failed",
	"task:status_changed",
}

// Notifier delivers one rendered message to a destination.
type Notifier interface {
	Notify(text string) error
	Name() string
}

// Attach subscribes the notifier to the bus and returns a detach
// function.
func Attach(b *bus.Bus, n Notifier) func() {
	var unsubs []func()
	for _, et := range watchedEvents {
		unsubs = append(unsubs, b.Subscribe(et, func(ev bus.Event) {
			_ = n.Notify(render(ev))
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func render(ev bus.Event) string {
	switch ev.Type {
	case "execution:started":
		return fmt.Sprintf("▶ task %s started: %v", ev.TaskID, ev.Data["title"])
	case "execution:stage_completed":
		return fmt.Sprintf("✔ task %s: stage %v completed", ev.TaskID, ev.Data["stage"])
	case "execution:stage_failed":
		return fmt.Sprintf("✖ task %s: stage %v failed: %v", ev.TaskID, ev.Data["stage"], ev.Data["error"])
	case "execution:completed":
		return fmt.Sprintf("✔ task %s completed", ev.TaskID)
	case "execution:failed":
		return fmt.Sprintf("✖ task %s failed: %v", ev.TaskID, ev.Data["error"])
	case "task:status_changed":
		return fmt.Sprintf("task %s is now %v", ev.TaskID, ev.Data["status"])
	}
	return fmt.Sprintf("task %s: %s", ev.TaskID, ev.Type)
}
