package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// seqTarget appends its name to a shared call log.
type seqTarget struct {
	name string
	mu   *sync.Mutex
	log  *[]string

	err error
}

func (s *seqTarget) note(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.log = append(*s.log, s.name+":"+call)
}

func (s *seqTarget) Record(rec *CaptureRecord) error {
	if s.err != nil {
		return s.err
	}
	s.note("record")
	return nil
}

func (s *seqTarget) Event(ev ConnectionEvent) error {
	if s.err != nil {
		return s.err
	}
	s.note("event")
	return nil
}

func (s *seqTarget) Commit(ctx context.Context, final bool) error {
	if s.err != nil {
		return s.err
	}
	s.note("commit")
	return nil
}

func newSeqTargets(names ...string) ([]*seqTarget, *[]string) {
	var mu sync.Mutex
	log := &[]string{}
	out := make([]*seqTarget, len(names))
	for i, n := range names {
		out[i] = &seqTarget{name: n, mu: &mu, log: log}
	}
	return out, log
}

func TestFanout_RecordInOrder(t *testing.T) {
	targets, log := newSeqTargets("a", "b", "c")
	f := NewFanout(targets[0], targets[1], targets[2])

	if err := f.Record(&CaptureRecord{Kind: RecordRequest, RequestID: "r1"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"a:record", "b:record", "c:record"}
	if len(*log) != len(want) {
		t.Fatalf("unexpected calls: %v", *log)
	}
	for i := range want {
		if (*log)[i] != want[i] {
			t.Fatalf("calls out of order: %v", *log)
		}
	}
}

func TestFanout_FirstErrorStopsBroadcast(t *testing.T) {
	targets, log := newSeqTargets("a", "b", "c")
	sinkErr := errors.New("sink down")
	targets[1].err = sinkErr
	f := NewFanout(targets[0], targets[1], targets[2])

	err := f.Event(ConnectionEvent{Kind: EventRead, Timestamp: time.Now()})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected the sink error, got %v", err)
	}
	if len(*log) != 1 || (*log)[0] != "a:event" {
		t.Errorf("broadcast should stop at the failing target, calls: %v", *log)
	}
}

func TestFanout_CommitJoinsAllTargets(t *testing.T) {
	targets, log := newSeqTargets("a", "b", "c")
	f := NewFanout(targets[0], targets[1], targets[2])

	if err := f.Commit(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if len(*log) != 3 {
		t.Fatalf("every target must commit, calls: %v", *log)
	}
}

func TestFanout_CommitPropagatesError(t *testing.T) {
	targets, _ := newSeqTargets("a", "b")
	commitErr := errors.New("flush failed")
	targets[1].err = commitErr
	f := NewFanout(targets[0], targets[1])

	if err := f.Commit(context.Background(), false); !errors.Is(err, commitErr) {
		t.Errorf("expected the commit error, got %v", err)
	}
}

func TestFanout_Empty(t *testing.T) {
	f := NewFanout()
	if err := f.Record(&CaptureRecord{}); err != nil {
		t.Error(err)
	}
	if err := f.Commit(context.Background(), true); err != nil {
		t.Error(err)
	}
}
