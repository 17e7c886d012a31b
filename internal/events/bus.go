// Package events fans cache queue notifications out to subscribers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/cesargomez89/navicache/internal/logger"
)

type Kind string

const (
	QueueStarted       Kind = "queue_started"
	QueueStopped       Kind = "queue_stopped"
	SongDownloaded     Kind = "song_downloaded"
	SongDownloadFailed Kind = "song_download_failed"
	CapacityWarning    Kind = "capacity_warning"
)

// Event is one notification. SongID and ServerID are set for the song
// events; FreeBytes for CapacityWarning.
type Event struct {
	Kind      Kind
	ServerID  int64
	SongID    int64
	FreeBytes int64
}

func (e Event) String() string {
	if e.SongID != 0 {
		return fmt.Sprintf("%s song %d (server %d)", e.Kind, e.SongID, e.ServerID)
	}
	return string(e.Kind)
}

// Handler receives events on the bus goroutine, in publish order.
type Handler func(Event)

// Bus delivers events to every subscriber from a single goroutine, so
// subscribers see them in order and a publisher never runs subscriber code.
type Bus struct {
	log    *logger.Logger
	ch     chan Event
	subs   map[int]Handler
	nextID int
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

func NewBus(buffer int, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Default()
	}
	return &Bus{
		log:  log.WithComponent("events"),
		ch:   make(chan Event, buffer),
		subs: make(map[int]Handler),
	}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish queues e for delivery. It blocks only while the buffer is full.
func (b *Bus) Publish(e Event) {
	b.ch <- e
}

// Run delivers events until ctx is done, then drains what is buffered.
func (b *Bus) Run(ctx context.Context) {
	b.wg.Add(1)
	defer b.wg.Done()

	for {
		select {
		case e := <-b.ch:
			b.deliver(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.deliver(e)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, e)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Panic in event subscriber", "event", e.String(), "panic", r)
		}
	}()
	h(e)
}
