package stream

import (
	"context"
	"testing"

	"github.com/webitel/actorbridge/wire"
)

type recordingSender struct {
	envs []wire.Envelope
}

func (s *recordingSender) Send(ctx context.Context, env wire.Envelope) error {
	s.envs = append(s.envs, env)
	return nil
}

func TestPublisherAssignsIncreasingSequence(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(wire.NewStreamID(), sender, nil)

	ctx := context.Background()
	for _, v := range []string{"a", "b", "c"} {
		if err := p.Publish(ctx, []byte(v)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(sender.envs) != 3 {
		t.Fatalf("got %d frames, want 3", len(sender.envs))
	}
	for i, env := range sender.envs {
		if env.StreamData == nil {
			t.Fatalf("frame %d: not a StreamData envelope", i)
		}
		if env.StreamData.Sequence != uint64(i+1) {
			t.Errorf("frame %d: sequence = %d, want %d", i, env.StreamData.Sequence, i+1)
		}
	}
}

func TestPublisherFilterSuppressesWithoutConsumingSequence(t *testing.T) {
	sender := &recordingSender{}
	filter, _ := NewFilter(&wire.StreamFilter{Type: wire.FilterPredefined, Name: "changed"})
	p := NewPublisher(wire.NewStreamID(), sender, filter)

	ctx := context.Background()
	for _, v := range []string{"A", "A", "B", "B", "C"} {
		if err := p.Publish(ctx, []byte(v)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(sender.envs) != 3 {
		t.Fatalf("got %d frames, want 3 (A, B, C)", len(sender.envs))
	}
	for i, want := range []uint64{1, 2, 3} {
		if sender.envs[i].StreamData.Sequence != want {
			t.Errorf("frame %d: sequence = %d, want %d", i, sender.envs[i].StreamData.Sequence, want)
		}
	}
}

func TestPublisherEndIsIdempotentAndSolitary(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(wire.NewStreamID(), sender, nil)

	ctx := context.Background()
	if err := p.End(ctx, wire.ReasonCompleted); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := p.End(ctx, wire.ReasonCompleted); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if err := p.Error(ctx, "too late"); err != nil {
		t.Fatalf("error after end: %v", err)
	}

	var terminators int
	for _, env := range sender.envs {
		if env.Type == wire.TypeStreamEnd || env.Type == wire.TypeStreamError {
			terminators++
		}
	}
	if terminators != 1 {
		t.Errorf("terminator frames = %d, want exactly 1", terminators)
	}
}

func TestPublisherResumeReplaysOnlyNewerFrames(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(wire.NewStreamID(), sender, nil)
	ctx := context.Background()

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		p.Publish(ctx, []byte(v))
	}
	sender.envs = nil // only inspect the resume replay

	if err := p.ResumeFrom(ctx, 3); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(sender.envs) != 2 {
		t.Fatalf("replayed %d frames, want 2 (seq 4 and 5)", len(sender.envs))
	}
	if sender.envs[0].StreamData.Sequence != 4 || sender.envs[1].StreamData.Sequence != 5 {
		t.Errorf("replayed sequences = %d, %d; want 4, 5", sender.envs[0].StreamData.Sequence, sender.envs[1].StreamData.Sequence)
	}
}

func TestPublisherResumeBeyondCacheErrors(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(wire.NewStreamID(), sender, nil)
	ctx := context.Background()

	for i := 0; i < resumeCacheSize+10; i++ {
		p.Publish(ctx, []byte("x"))
	}
	sender.envs = nil

	if err := p.ResumeFrom(ctx, 1); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(sender.envs) != 1 || sender.envs[0].Type != wire.TypeStreamError {
		t.Fatalf("expected exactly one StreamError frame for a resume point outside the cache window, got %+v", sender.envs)
	}
}

func TestPublisherDeltaWrapsAfterFilter(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(wire.NewStreamID(), sender, nil)
	p.UseDelta(counterDeltaCodec{})

	app := NewDeltaApplier(counterDeltaCodec{})

	ctx := context.Background()
	for _, v := range []string{"10", "12", "25"} {
		if err := p.Publish(ctx, []byte(v)); err != nil {
			t.Fatalf("publish %s: %v", v, err)
		}
	}

	if len(sender.envs) != 3 {
		t.Fatalf("got %d frames, want 3", len(sender.envs))
	}
	var got []string
	for _, env := range sender.envs {
		full, err := app.Decode(env.StreamData.Payload)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(full))
	}
	want := []string{"10", "12", "25"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
}
