package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aaravM123/goalkeeper/internal/goal"
)

type EventType string

const (
	EventTypePlanCreated   EventType = "PLAN_CREATED"
	EventTypeDayCompleted  EventType = "DAY_COMPLETED"
	EventTypeGoalCompleted EventType = "GOAL_COMPLETED"
	EventTypeGoalStalled   EventType = "GOAL_STALLED"
)

// Event describes one observable change in the agent's progress.
type Event struct {
	ID        string
	Type      EventType
	Status    goal.Status
	Day       int
	Summary   string
	CreatedAt time.Time
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan Event) {
	id := ulid.Make().String()
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, status goal.Status, day int, summary string) {
	b.Publish(Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Status:    status,
		Day:       day,
		Summary:   summary,
		CreatedAt: time.Now(),
	})
}
