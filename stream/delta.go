package stream

import (
	"encoding/json"
	"sync"

	"github.com/webitel/actorbridge/errs"
)

// DeltaCodec lets a domain payload type express itself as a diff against a
// previous value. Delta reports ok=false when no delta makes
// sense (e.g. the first value, or too unrelated to diff), in which case the
// manager falls back to sending the full value.
type DeltaCodec interface {
	Delta(prev, current []byte) (delta []byte, ok bool)
	Apply(prev, delta []byte) (current []byte, err error)
}

// deltaFrame is the wire envelope wrapped around every payload on a
// delta-enabled stream.
type deltaFrame struct {
	Full bool   `json:"full"`
	Data []byte `json:"data"`
}

// DeltaManager is the server-side half: it remembers the last value it sent
// and decides, per subsequent value, whether a delta or a full encoding
// goes out. The first frame on any stream is always full.
type DeltaManager struct {
	codec DeltaCodec

	mu      sync.Mutex
	prev    []byte
	hasPrev bool
}

func NewDeltaManager(codec DeltaCodec) *DeltaManager {
	return &DeltaManager{codec: codec}
}

// Encode wraps current as a delta-or-full frame, ready to hand to a
// Publisher as the payload.
func (m *DeltaManager) Encode(current []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame := deltaFrame{Full: true, Data: current}
	if m.hasPrev {
		if delta, ok := m.codec.Delta(m.prev, current); ok {
			frame = deltaFrame{Full: false, Data: delta}
		}
	}

	m.prev = append([]byte(nil), current...)
	m.hasPrev = true

	b, err := json.Marshal(frame)
	if err != nil {
		return nil, errs.SerializationFailed(err)
	}
	return b, nil
}

// DeltaApplier is the client-side half: it reconstructs full values from a
// stream of delta-or-full frames, requiring a prior full value before it
// can apply a delta; a delta arriving first fails with no-base-value.
type DeltaApplier struct {
	codec DeltaCodec

	mu      sync.Mutex
	base    []byte
	hasBase bool
}

func NewDeltaApplier(codec DeltaCodec) *DeltaApplier {
	return &DeltaApplier{codec: codec}
}

// Decode reverses Encode, returning the reconstructed full current value.
func (a *DeltaApplier) Decode(wireBytes []byte) ([]byte, error) {
	var frame deltaFrame
	if err := json.Unmarshal(wireBytes, &frame); err != nil {
		return nil, errs.DeserializationFailed(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if frame.Full {
		a.base = append([]byte(nil), frame.Data...)
		a.hasBase = true
		return a.base, nil
	}

	if !a.hasBase {
		return nil, errs.NoBaseValue()
	}

	current, err := a.codec.Apply(a.base, frame.Data)
	if err != nil {
		return nil, err
	}
	a.base = append([]byte(nil), current...)
	return current, nil
}
