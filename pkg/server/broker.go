package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

// EventDone is published once a job reaches a terminal status.
const EventDone = "done"

const defaultHistory = 2048

// BrokerEvent is one published job event in wire form.
type BrokerEvent struct {
	Seq  uint64          `json:"seq"`
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Broker fans job events out to SSE subscribers and keeps a bounded history
// per job so late subscribers can replay it.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan BrokerEvent]struct{}
	history     map[string]*ring
	capacity    int
	// Retention is how long a finished job's history stays replayable.
	Retention time.Duration
}

func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	return &Broker{
		subscribers: make(map[string]map[chan BrokerEvent]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		Retention:   10 * time.Minute,
	}
}

// Subscribe registers a live channel for jobID. Slow subscribers miss events
// instead of blocking publishers and catch up with ReplaySince.
func (b *Broker) Subscribe(jobID string, buffer int) chan BrokerEvent {
	ch := make(chan BrokerEvent, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[jobID]
	if subs == nil {
		subs = make(map[chan BrokerEvent]struct{})
		b.subscribers[jobID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(jobID string, ch chan BrokerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[jobID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, jobID)
		}
	}
}

// Publish assigns the next sequence number to the event and delivers it.
func (b *Broker) Publish(jobID, name string, payload any) BrokerEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}

	b.mu.Lock()
	rg := b.history[jobID]
	if rg == nil {
		rg = newRing(b.capacity)
		b.history[jobID] = rg
	}
	rg.nextSeq++
	evt := BrokerEvent{Seq: rg.nextSeq, Name: name, Data: data}
	rg.push(evt)
	// Sends stay under the lock so Unsubscribe cannot close a channel mid-send.
	defer b.mu.Unlock()
	for ch := range b.subscribers[jobID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt
}

// ReplaySince returns the buffered events of jobID with Seq greater than seq.
func (b *Broker) ReplaySince(jobID string, seq uint64) []BrokerEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rg := b.history[jobID]
	if rg == nil {
		return nil
	}
	return rg.since(seq)
}

// Finish publishes the done event and schedules the history for removal.
func (b *Broker) Finish(jobID, status string) {
	b.Publish(jobID, EventDone, map[string]string{"status": status})
	if b.Retention > 0 {
		time.AfterFunc(b.Retention, func() { b.forget(jobID) })
	}
}

func (b *Broker) forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, jobID)
}

// Sink returns an EventSink publishing the events of one job.
func (b *Broker) Sink(jobID string) research.EventSink {
	return research.SinkFunc(func(ev research.Event) {
		name, payload := research.Encode(ev)
		b.Publish(jobID, name, payload)
	})
}

type ring struct {
	buf     []BrokerEvent
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]BrokerEvent, capacity)} }

func (r *ring) push(e BrokerEvent) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []BrokerEvent {
	if r.count == 0 {
		return nil
	}
	out := make([]BrokerEvent, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
