package stream

import "github.com/webitel/actorbridge/wire"

// resumeCacheSize bounds how many past frames a publisher keeps around for
// StreamResume replay. This is purely a resume cache, not a backpressure
// mechanism: pushing never blocks, the oldest frame is overwritten once the
// ring is full, and a client cannot resume past this many frames back.
const resumeCacheSize = 100

// ring is a fixed-capacity circular buffer of the most recent StreamData
// frames, used to answer StreamResume requests without keeping unbounded
// history.
type ring struct {
	buf   [resumeCacheSize]*wire.StreamData
	count int
	next  int
}

func (r *ring) push(d *wire.StreamData) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % resumeCacheSize
	if r.count < resumeCacheSize {
		r.count++
	}
}

// since returns buffered frames with Sequence > lastSequence, oldest first.
// If lastSequence is older than everything still buffered, the caller
// cannot be fully replayed and must be told so: resume beyond the cache
// window is a gap, not silently partial data.
func (r *ring) since(lastSequence uint64) (frames []*wire.StreamData, gap bool) {
	if r.count == 0 {
		return nil, false
	}

	start := (r.next - r.count + resumeCacheSize) % resumeCacheSize
	oldest := r.buf[start]
	if oldest.Sequence > lastSequence+1 {
		gap = true
	}

	for i := 0; i < r.count; i++ {
		idx := (start + i) % resumeCacheSize
		d := r.buf[idx]
		if d.Sequence > lastSequence {
			frames = append(frames, d)
		}
	}
	return frames, gap
}
