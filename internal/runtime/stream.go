package runtime

import "context"

// Stream delivers the snapshots of one run. It is finite: the channel is
// closed after the final snapshot and cannot be restarted.
type Stream struct {
	runID string
	ch    chan Snapshot
}

func newStream(runID string, capacity int) *Stream {
	return &Stream{runID: runID, ch: make(chan Snapshot, capacity)}
}

// RunID identifies the observed run.
func (s *Stream) RunID() string {
	return s.runID
}

// C returns the snapshot channel.
func (s *Stream) C() <-chan Snapshot {
	return s.ch
}

// Next returns the next snapshot. ok is false once the stream is closed.
func (s *Stream) Next(ctx context.Context) (snap Snapshot, ok bool, err error) {
	select {
	case snap, ok = <-s.ch:
		return snap, ok, nil
	case <-ctx.Done():
		return Snapshot{}, false, ctx.Err()
	}
}

// Collect drains the stream.
func (s *Stream) Collect(ctx context.Context) ([]Snapshot, error) {
	var out []Snapshot
	for {
		snap, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, snap)
	}
}

// offer delivers snap without blocking the run. It reports false if the
// consumer fell behind and the snapshot was dropped.
func (s *Stream) offer(snap Snapshot) bool {
	select {
	case s.ch <- snap:
		return true
	default:
		return false
	}
}
