package events

import (
	"sync"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

var _ output.EventBus = (*Bus)(nil)

// Bus delivers notifications to subscribers. Each subscriber has its own
// goroutine and a one-slot queue, so repeated notifications while a handler is
// busy collapse into one and a slow handler never blocks Publish.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[entity.Topic]map[int]*subscriber
}

type subscriber struct {
	pending chan struct{}
	done    chan struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[entity.Topic]map[int]*subscriber)}
}

func (b *Bus) Publish(topic entity.Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[topic] {
		select {
		case s.pending <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) Subscribe(topic entity.Topic, handler func()) func() {
	s := &subscriber{
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*subscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = s
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.pending:
				handler()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
			close(s.done)
		})
	}
}
