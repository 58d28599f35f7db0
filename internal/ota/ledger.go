package ota

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/otabridge/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/otabridge/internal/pkg/util/fsm"
)

const (
	eventFound    = "found"
	eventNotFound = "not_found"
	eventBegin    = "begin"
	eventProgress = "progress"
	eventSucceed  = "succeed"
	eventFail     = "fail"
	eventRecover  = "recover"
)

var transitions = fsm.Events{
	{Name: eventFound, Src: []string{string(StateIdle), string(StateAvailable)}, Dst: string(StateAvailable)},
	{Name: eventNotFound, Src: []string{string(StateIdle), string(StateAvailable)}, Dst: string(StateIdle)},
	{Name: eventBegin, Src: []string{string(StateIdle), string(StateAvailable)}, Dst: string(StateUpdating)},
	{Name: eventProgress, Src: []string{string(StateUpdating)}, Dst: string(StateUpdating)},
	{Name: eventSucceed, Src: []string{string(StateUpdating)}, Dst: string(StateIdle)},
	{Name: eventFail, Src: []string{string(StateUpdating)}, Dst: string(StateAvailable)},

	// A restart interrupts any transfer; nothing can be resumed.
	{Name: eventRecover, Src: []string{string(StateUpdating)}, Dst: string(StateAvailable)},
}

// Patch holds the fields to merge into a Record. Nil fields and an empty State are left unchanged.
type Patch struct {
	State            State
	InstalledVersion *int64
	LatestVersion    *int64
	Progress         *float64
	Remaining        *int64
}

// Ledger owns the per-device update records and the in-progress set.
type Ledger struct {
	mu         sync.Mutex
	records    map[string]*Record
	inProgress map[string]struct{}
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records:    make(map[string]*Record),
		inProgress: make(map[string]struct{}),
	}
}

// Onboard creates an idle record for id unless one exists, and returns the current snapshot.
func (l *Ledger) Onboard(id string) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[id]
	if !ok {
		r = &Record{State: StateIdle}
		l.records[id] = r
	}
	return r.clone()
}

// Restore installs a persisted record, replacing any existing one.
func (l *Ledger) Restore(id string, r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.State == "" {
		r.State = StateIdle
	}
	rc := r.clone()
	l.records[id] = &rc
}

// Forget removes the record for id. It refuses while an operation holds id.
func (l *Ledger) Forget(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inProgress[id]; busy {
		return false
	}
	delete(l.records, id)
	return true
}

// Get returns a copy of the record for id.
func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Snapshot returns a copy of every record.
func (l *Ledger) Snapshot() map[string]Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]Record, len(l.records))
	for id, r := range l.records {
		out[id] = r.clone()
	}
	return out
}

// SetState merges p into the record for id and returns the new snapshot.
// State changes are validated against the update state machine; a rejected
// transition leaves the record untouched.
func (l *Ledger) SetState(id string, p Patch) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNoRecord, id)
	}

	next := r.clone()
	if p.State != "" {
		if err := transition(&next, eventFor(r.State, p.State)); err != nil {
			return r.clone(), err
		}
	}

	if p.InstalledVersion != nil {
		v := *p.InstalledVersion
		next.InstalledVersion = &v
	}
	if p.LatestVersion != nil {
		v := *p.LatestVersion
		next.LatestVersion = &v
	}
	if next.State == StateUpdating {
		if p.Progress != nil {
			v := *p.Progress
			next.Progress = &v
		}
		if p.Remaining != nil {
			v := *p.Remaining
			next.Remaining = &v
		}
	}

	*r = next
	return next.clone(), nil
}

// ClearProgress removes progress and remaining from the record for id.
func (l *Ledger) ClearProgress(id string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNoRecord, id)
	}
	r.Progress = nil
	r.Remaining = nil
	return r.clone(), nil
}

// Recover moves an interrupted update back to available. It reports whether the record changed.
func (l *Ledger) Recover(id string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[id]
	if !ok {
		return Record{}, false
	}

	changed := r.Progress != nil || r.Remaining != nil
	if r.State == StateUpdating {
		next := r.clone()
		if err := transition(&next, eventRecover); err == nil {
			*r = next
			changed = true
		}
	}
	r.Progress = nil
	r.Remaining = nil
	return r.clone(), changed
}

// TryAcquire adds id to the in-progress set. It returns false if id is already a member.
func (l *Ledger) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inProgress[id]; busy {
		return false
	}
	l.inProgress[id] = struct{}{}
	metrics.OperationsInFlight.Inc()
	return true
}

// Release removes id from the in-progress set.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inProgress[id]; busy {
		delete(l.inProgress, id)
		metrics.OperationsInFlight.Dec()
	}
}

// InProgress reports whether id holds the lock.
func (l *Ledger) InProgress(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, busy := l.inProgress[id]
	return busy
}

func eventFor(from, to State) string {
	switch to {
	case StateAvailable:
		if from == StateUpdating {
			return eventFail
		}
		return eventFound
	case StateIdle:
		if from == StateUpdating {
			return eventSucceed
		}
		return eventNotFound
	case StateUpdating:
		if from == StateUpdating {
			return eventProgress
		}
		return eventBegin
	}
	return string(to)
}

// transition runs event against r's state machine, applying the entry actions to r.
func transition(r *Record, event string) error {
	machine := fsm.NewFSM(string(r.State), transitions, fsm.Callbacks{
		"enter_" + string(StateUpdating): fsmutil.WrapEvent(func(_ context.Context, _ *fsm.Event) error {
			zero := 0.0
			r.Progress = &zero
			r.Remaining = nil
			return nil
		}),
		"enter_" + string(StateIdle):      fsmutil.WrapEvent(clearProgressAction(r)),
		"enter_" + string(StateAvailable): fsmutil.WrapEvent(clearProgressAction(r)),
	})

	if err := fsmutil.IgnoreNoTransition(machine.Event(context.Background(), event)); err != nil {
		return fmt.Errorf("update state %q: %w", r.State, err)
	}
	r.State = State(machine.Current())
	return nil
}

func clearProgressAction(r *Record) func(context.Context, *fsm.Event) error {
	return func(_ context.Context, _ *fsm.Event) error {
		r.Progress = nil
		r.Remaining = nil
		return nil
	}
}
