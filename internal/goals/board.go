package goals

import (
	"fmt"
	"sync"
	"time"

	"goalsync/api/internal/store"
)

type overlay struct {
	status    store.Status
	state     TransitionState
	updatedAt time.Time
}

// Board is a local view of one selector's goals as a status board. Snapshots from a
// subscription replace the underlying set; status changes started by Drop are laid
// over it until a snapshot reflects them, so a snapshot read before the write cannot
// flip a card back.
type Board struct {
	// notifyMu serializes mutations together with their listener call, so views reach
	// the listener in the order they were computed. Taken before mu.
	notifyMu sync.Mutex

	mu       sync.Mutex
	seq      uint64
	goals    []store.Goal
	overlays map[string]overlay
	onChange func([]store.Goal)
}

func NewBoard(initial []store.Goal) *Board {
	b := &Board{overlays: make(map[string]overlay)}
	b.goals = cloneGoals(initial)
	return b
}

// OnChange registers fn to be called with the visible goals after every change to the
// board. Calls are serialized and arrive in mutation order; fn may read the board but
// must not change it.
func (b *Board) OnChange(fn func([]store.Goal)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Apply replaces the underlying set with snap. Failed snapshots leave the board as is.
func (b *Board) Apply(snap Snapshot) {
	if snap.Err != nil {
		return
	}
	b.update(func() bool {
		if snap.Seq != 0 && snap.Seq <= b.seq {
			return false
		}
		b.seq = snap.Seq
		b.goals = cloneGoals(snap.Goals)

		byID := make(map[string]store.Goal, len(b.goals))
		for _, g := range b.goals {
			byID[g.ID] = g
		}
		for id, ov := range b.overlays {
			if ov.state != TransitionConfirmed {
				continue
			}
			g, ok := byID[id]
			if !ok || g.Status == ov.status || g.UpdatedAt.After(ov.updatedAt) {
				delete(b.overlays, id)
			}
		}
		return true
	})
}

func (b *Board) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Goals returns the visible goals: the last snapshot with overlays applied.
func (b *Board) Goals() []store.Goal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visibleLocked()
}

func (b *Board) Goal(id string) (store.Goal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.visibleLocked() {
		if g.ID == id {
			return g, true
		}
	}
	return store.Goal{}, false
}

// Pending reports whether a status change for id awaits confirmation.
func (b *Board) Pending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ov, ok := b.overlays[id]
	return ok && ov.state == TransitionPending
}

// Columns groups the visible goals by status, in board column order.
func (b *Board) Columns() map[store.Status][]store.Goal {
	b.mu.Lock()
	defer b.mu.Unlock()
	cols := make(map[store.Status][]store.Goal, len(store.Statuses))
	for _, status := range store.Statuses {
		cols[status] = []store.Goal{}
	}
	for _, g := range b.visibleLocked() {
		cols[g.Status] = append(cols[g.Status], g)
	}
	return cols
}

func (b *Board) begin(id string, from, to store.Status) error {
	var err error
	b.update(func() bool {
		if ov, ok := b.overlays[id]; ok && ov.state == TransitionPending {
			err = invalid("status", "a status change for this goal is already pending")
			return false
		}
		current, ok := b.statusLocked(id)
		if !ok {
			// Not on this board; the store read decides.
			return false
		}
		if current != from {
			err = invalid("from", fmt.Sprintf("goal is in column %s, not %s", current, from))
			return false
		}
		b.overlays[id] = overlay{status: to, state: TransitionPending}
		return true
	})
	return err
}

func (b *Board) revert(id string) {
	b.update(func() bool {
		if _, ok := b.overlays[id]; !ok {
			return false
		}
		delete(b.overlays, id)
		return true
	})
}

func (b *Board) confirm(id string, updatedAt time.Time) {
	b.update(func() bool {
		ov, ok := b.overlays[id]
		if !ok {
			return false
		}
		ov.state = TransitionConfirmed
		ov.updatedAt = updatedAt
		b.overlays[id] = ov
		return true
	})
}

func (b *Board) statusLocked(id string) (store.Status, bool) {
	for _, g := range b.goals {
		if g.ID != id {
			continue
		}
		if ov, ok := b.overlays[id]; ok {
			return ov.status, true
		}
		return g.Status, true
	}
	return "", false
}

func (b *Board) visibleLocked() []store.Goal {
	out := cloneGoals(b.goals)
	for i := range out {
		if ov, ok := b.overlays[out[i].ID]; ok {
			out[i].Status = ov.status
		}
	}
	return out
}

// update runs change under mu and, when it reports a change, hands the resulting view
// to the listener before the next mutation may start.
func (b *Board) update(change func() bool) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	if !change() {
		b.mu.Unlock()
		return
	}
	fn := b.onChange
	var visible []store.Goal
	if fn != nil {
		visible = b.visibleLocked()
	}
	b.mu.Unlock()

	if fn != nil {
		fn(visible)
	}
}

func cloneGoals(in []store.Goal) []store.Goal {
	out := make([]store.Goal, len(in))
	for i, g := range in {
		out[i] = g.Clone()
	}
	return out
}
