package tracking

import (
	"github.com/aura-webinar/watchtrack/internal/models"
)

// DefaultEventBufferSize bounds the number of unacknowledged playback events.
const DefaultEventBufferSize = 256

type seqEvent struct {
	seq uint64
	ev  models.UserEvent
}

// eventBuffer holds events until a successful update acknowledges them. Not safe for
// concurrent use; the Tracker guards it with its mutex.
type eventBuffer struct {
	limit   int
	items   []seqEvent
	nextSeq uint64
	dropped int
}

func newEventBuffer(limit int) *eventBuffer {
	if limit <= 0 {
		limit = DefaultEventBufferSize
	}
	return &eventBuffer{limit: limit}
}

// add appends ev in emission order. When full the oldest event is dropped and add returns true.
func (b *eventBuffer) add(ev models.UserEvent) bool {
	b.nextSeq++
	b.items = append(b.items, seqEvent{seq: b.nextSeq, ev: ev})
	if len(b.items) <= b.limit {
		return false
	}
	b.items = b.items[1:]
	b.dropped++
	return true
}

// snapshot returns the buffered events and the sequence number of the last one.
func (b *eventBuffer) snapshot() ([]models.UserEvent, uint64) {
	if len(b.items) == 0 {
		return nil, 0
	}
	out := make([]models.UserEvent, len(b.items))
	for i, it := range b.items {
		out[i] = it.ev
	}
	return out, b.items[len(b.items)-1].seq
}

// ack drops every event up to and including seq.
func (b *eventBuffer) ack(seq uint64) {
	if seq == 0 {
		return
	}
	i := 0
	for i < len(b.items) && b.items[i].seq <= seq {
		i++
	}
	b.items = append([]seqEvent(nil), b.items[i:]...)
}

func (b *eventBuffer) size() int { return len(b.items) }

func (b *eventBuffer) reset() {
	b.items = nil
	b.dropped = 0
}
