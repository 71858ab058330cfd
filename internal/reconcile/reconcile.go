package reconcile

import (
	"context"
	"fmt"

	"untiscal/internal/calendar"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// Outcome is the final state of one lesson within a run.
type Outcome string

const (
	Created   Outcome = "created"
	Duplicate Outcome = "duplicate"
	Failed    Outcome = "failed"
)

// Result aggregates the outcomes of a run.
type Result struct {
	Created    int
	Duplicates int
	Failed     int
}

// Total is the number of lessons processed.
func (r Result) Total() int { return r.Created + r.Duplicates + r.Failed }

// String is the summary line printed at the end of a run.
func (r Result) String() string {
	return fmt.Sprintf("created=%d duplicates=%d failed=%d", r.Created, r.Duplicates, r.Failed)
}

func (r *Result) add(o Outcome) {
	switch o {
	case Created:
		r.Created++
	case Duplicate:
		r.Duplicates++
	case Failed:
		r.Failed++
	}
}

// dryRunID marks index entries for events that were not actually created.
const dryRunID = "dry-run"

// Reconciler creates the lessons missing from a remote store. It processes
// one lesson at a time and records every creation in its index before moving
// on, so repeated lessons within a batch are created once.
type Reconciler struct {
	store  calendar.Store
	index  *Index
	opts   EventOptions
	dryRun bool

	// OnOutcome, if set, is called after each lesson is decided.
	OnOutcome func(model.Lesson, Outcome)
}

// New returns a Reconciler writing to store. index must have been built from
// the same store; it is updated in place.
func New(store calendar.Store, index *Index, opts EventOptions, dryRun bool) *Reconciler {
	if index == nil {
		index = NewIndex()
	}
	return &Reconciler{store: store, index: index, opts: opts, dryRun: dryRun}
}

// Index returns the reconciler's live index.
func (r *Reconciler) Index() *Index { return r.index }

// Sync decides every lesson in order. Per-lesson failures are counted and
// never returned.
func (r *Reconciler) Sync(ctx context.Context, lessons []model.Lesson) Result {
	var res Result
	for _, l := range lessons {
		o := r.one(ctx, l)
		res.add(o)
		if r.OnOutcome != nil {
			r.OnOutcome(l, o)
		}
	}
	appLog.Info("sync finished",
		"lessons", len(lessons),
		"created", res.Created,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
		"dry_run", r.dryRun,
	)
	return res
}

func (r *Reconciler) one(ctx context.Context, l model.Lesson) Outcome {
	if id, ok := r.index.Lookup(l); ok {
		appLog.Debug("lesson duplicate", "lesson", l.String(), "identifier", l.Identifier, "remote_id", id)
		return Duplicate
	}

	ev, err := NewEventFor(l, r.opts)
	if err != nil {
		appLog.Error("lesson event build failed", err, "lesson", l.String())
		return Failed
	}

	if r.dryRun {
		r.index.Record(l, dryRunID)
		appLog.Debug("lesson would be created", "lesson", l.String(), "identifier", l.Identifier)
		return Created
	}

	id, err := r.store.Insert(ctx, ev)
	if err != nil {
		appLog.Error("lesson create failed", err, "lesson", l.String(), "identifier", l.Identifier)
		return Failed
	}
	r.index.Record(l, id)
	appLog.Debug("lesson created", "lesson", l.String(), "identifier", l.Identifier, "remote_id", id)
	return Created
}

// Options configures Run.
type Options struct {
	Window    calendar.Window
	PageSize  int
	Event     EventOptions
	DryRun    bool
	OnOutcome func(model.Lesson, Outcome)
}

// Run builds a fresh index of the window and syncs lessons against it. Only
// enumeration failures are returned; nothing is mutated in that case.
func Run(ctx context.Context, store calendar.Store, lessons []model.Lesson, opts Options) (Result, error) {
	index, err := BuildIndex(ctx, store, opts.Window, opts.PageSize, opts.Event.Location)
	if err != nil {
		return Result{}, err
	}
	r := New(store, index, opts.Event, opts.DryRun)
	r.OnOutcome = opts.OnOutcome
	return r.Sync(ctx, lessons), nil
}
