package progress

import (
	"sync"
)

const (
	// ReplayDepth is how many recent events per job are retained for
	// reconnecting subscribers. A subscriber that fell further behind
	// permanently misses the gap.
	ReplayDepth = 20

	// OutboxSize bounds each subscriber's pending-event channel. A
	// subscriber that cannot drain this many events is dropped so a slow
	// client never stalls Publish for the others.
	OutboxSize = 32
)

// Event is one broadcast progress frame. Seq is strictly increasing per
// job starting at 1 and doubles as the stream resumption cursor.
type Event struct {
	Seq  int64
	Name string
	Data []byte
}

// Subscriber receives a job's events over a bounded channel. The channel
// is closed when the job ends, the subscriber is dropped for falling
// behind, or Unsubscribe is called.
type Subscriber struct {
	ch chan Event
}

// Events returns the subscriber's receive channel
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// stream is the per-job broadcast state. It exists from the first
// Subscribe or Publish until End discards it.
type stream struct {
	nextSeq int64
	buffer  []Event
	subs    map[*Subscriber]struct{}
}

// Hub is the per-job broadcast channel with a bounded replay buffer
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
	ended   map[string]struct{}
}

// NewHub creates an empty progress hub
func NewHub() *Hub {
	return &Hub{
		streams: make(map[string]*stream),
		ended:   make(map[string]struct{}),
	}
}

// Subscribe registers a new subscriber for the job. Buffered events with
// Seq > lastSeen are queued for delivery, in order, ahead of any live
// event. Pass lastSeen = 0 to replay everything still buffered.
// Subscribing to a job whose stream already ended yields a subscriber
// whose channel is closed; the dead stream is never recreated.
func (h *Hub) Subscribe(jobID string, lastSeen int64) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, OutboxSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.ended[jobID]; done {
		close(sub.ch)
		return sub
	}

	st := h.streamLocked(jobID)
	st.subs[sub] = struct{}{}
	for _, ev := range st.buffer {
		if ev.Seq > lastSeen {
			// Replay fits: the buffer never exceeds the outbox bound.
			sub.ch <- ev
		}
	}
	return sub
}

// Unsubscribe removes a subscriber (e.g., on client disconnect). It is a
// no-op when the subscriber was already dropped or the job ended.
func (h *Hub) Unsubscribe(jobID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, exists := h.streams[jobID]
	if !exists {
		return
	}
	if _, member := st.subs[sub]; !member {
		return
	}
	delete(st.subs, sub)
	close(sub.ch)
}

// Publish assigns the next sequence id, appends the event to the bounded
// replay buffer, and forwards it to every subscriber. A subscriber whose
// outbox is full is silently dropped; Publish never blocks and never
// reports sink failures to the caller. The assigned sequence id is
// returned. Publishing to an ended stream is a no-op returning 0, so a
// straggling update after the terminal event cannot resurrect the stream.
func (h *Hub) Publish(jobID, name string, data []byte) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.ended[jobID]; done {
		return 0
	}

	st := h.streamLocked(jobID)
	return h.publishLocked(st, name, data)
}

// End publishes the designated terminal event, then force-closes every
// subscriber and discards the job's buffer. Calling End again for the
// same job id is a no-op.
func (h *Hub) End(jobID, name string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, exists := h.streams[jobID]
	if !exists {
		h.ended[jobID] = struct{}{}
		return
	}
	h.publishLocked(st, name, data)
	for sub := range st.subs {
		delete(st.subs, sub)
		close(sub.ch)
	}
	delete(h.streams, jobID)
	h.ended[jobID] = struct{}{}
}

// SubscriberCount reports how many sinks are registered for a job
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, exists := h.streams[jobID]
	if !exists {
		return 0
	}
	return len(st.subs)
}

func (h *Hub) streamLocked(jobID string) *stream {
	st, exists := h.streams[jobID]
	if !exists {
		st = &stream{subs: make(map[*Subscriber]struct{})}
		h.streams[jobID] = st
	}
	return st
}

func (h *Hub) publishLocked(st *stream, name string, data []byte) int64 {
	st.nextSeq++
	ev := Event{Seq: st.nextSeq, Name: name, Data: data}

	st.buffer = append(st.buffer, ev)
	if len(st.buffer) > ReplayDepth {
		st.buffer = st.buffer[len(st.buffer)-ReplayDepth:]
	}

	for sub := range st.subs {
		select {
		case sub.ch <- ev:
		default:
			// Slow or dead sink; drop it rather than stall the publisher.
			delete(st.subs, sub)
			close(sub.ch)
		}
	}
	return ev.Seq
}
