package gateway

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Fanout replicates capture calls to multiple targets behind the single
// CaptureTarget interface. Records and events go to every target in
// registration order; the first error stops the broadcast and propagates to
// the caller. There is deliberately no per-target isolation: a degraded
// target degrades the whole connection's capture, which keeps the targets'
// views consistent with each other.
type Fanout struct {
	targets []CaptureTarget
}

// NewFanout wraps the given targets. A Fanout with no targets discards
// everything.
func NewFanout(targets ...CaptureTarget) *Fanout {
	return &Fanout{targets: targets}
}

// Record implements [CaptureTarget].
func (f *Fanout) Record(rec *CaptureRecord) error {
	for _, t := range f.targets {
		if err := t.Record(rec); err != nil {
			return err
		}
	}
	return nil
}

// Event implements [CaptureTarget].
func (f *Fanout) Event(ev ConnectionEvent) error {
	for _, t := range f.targets {
		if err := t.Event(ev); err != nil {
			return err
		}
	}
	return nil
}

// Commit implements [CaptureTarget]. Targets commit concurrently; the call
// returns once every target has finished, with the first error if any.
// Timeouts are each target's own responsibility.
func (f *Fanout) Commit(ctx context.Context, final bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range f.targets {
		t := t
		g.Go(func() error {
			return t.Commit(ctx, final)
		})
	}
	return g.Wait()
}
