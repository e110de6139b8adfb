package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple the send
// pipeline from whatever renders progress (the local API, the CLI).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// This is deliberately a best-effort, one-way stream: there is no
// delivery guarantee and no backpressure toward the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Well-known event types emitted by the broadcast pipeline.
const (
	TypeSendPlan      = "send.plan"
	TypeSendChunkDone = "send.chunk"
	TypeSendDone      = "send.done"
	TypeSendFailed    = "send.failed"
	TypeNote          = "note"
)

// SendPlan announces an upcoming run: how many recipients across how
// many chunks for a course.
type SendPlan struct {
	CourseID        int64 `json:"course_id"`
	TotalRecipients int   `json:"total_recipients"`
	TotalChunks     int   `json:"total_chunks"`
}

// SendChunkDone reports one delivered chunk.
type SendChunkDone struct {
	CourseID    int64 `json:"course_id"`
	Chunk       int   `json:"chunk"`
	TotalChunks int   `json:"total_chunks"`
	ChunkSize   int   `json:"chunk_size"`
	SentSoFar   int   `json:"sent_so_far"`
}

// SendDone reports a completed run.
type SendDone struct {
	CourseID        int64 `json:"course_id"`
	TotalRecipients int   `json:"total_recipients"`
	BatchCount      int   `json:"batch_count"`
}

// SendFailed reports a run that was aborted; claims won during the run
// have been released (best effort).
type SendFailed struct {
	CourseID int64  `json:"course_id"`
	Error    string `json:"error"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
