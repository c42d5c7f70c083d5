package goals

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"goalsync/api/internal/changefeed"
	"goalsync/api/internal/store"
)

const DefaultSubscriberBuffer = 8

// Snapshot is one delivery to a subscription. Seq increases by one per delivery; the
// initial result set is Seq 0. Err is set when the refresh failed; Goals is then nil
// and the subscriber may call Refresh to retry.
type Snapshot struct {
	Seq   uint64       `json:"seq"`
	Goals []store.Goal `json:"goals"`
	Err   error        `json:"-"`
	At    time.Time    `json:"at"`
}

// Notifier keeps live subscriptions current. Changes only mark subscriptions dirty;
// each subscription re-resolves on its own goroutine and delivers into its own bounded
// queue, dropping the oldest undelivered snapshot when the consumer falls behind.
type Notifier struct {
	resolver GoalResolver
	logger   *slog.Logger
	buffer   int
	observer Observer

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

type NotifierOption func(*Notifier)

func WithBuffer(n int) NotifierOption {
	return func(nf *Notifier) {
		if n > 0 {
			nf.buffer = n
		}
	}
}

func WithObserver(o Observer) NotifierOption {
	return func(nf *Notifier) {
		if o != nil {
			nf.observer = o
		}
	}
}

func NewNotifier(resolver GoalResolver, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		resolver: resolver,
		logger:   logger,
		buffer:   DefaultSubscriberBuffer,
		observer: NopObserver{},
		subs:     make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe resolves sel once and keeps the subscription alive until Cancel is called
// or ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, sel Selector) (*Subscription, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Subscription{
		notifier:  n,
		selector:  sel,
		ctx:       subCtx,
		cancelCtx: cancel,
		dirty:     make(chan struct{}, 1),
		out:       make(chan Snapshot, n.buffer),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	// Register before the first read so a change committed meanwhile marks it dirty.
	n.mu.Lock()
	s.id = n.nextID
	n.nextID++
	n.subs[s.id] = s
	n.mu.Unlock()

	initial, err := n.resolver.Resolve(ctx, sel)
	if err != nil {
		n.remove(s.id)
		cancel()
		return nil, err
	}
	s.initial = initial
	s.lastHash = fingerprint(initial)

	n.observer.SubscriptionOpened()
	go s.run()
	// ctx may end right here, in which case Cancel runs before the assignment.
	stop := context.AfterFunc(ctx, s.Cancel)
	s.mu.Lock()
	s.stopAfter = stop
	s.mu.Unlock()
	n.logger.Debug("subscription opened",
		"subscription", s.id,
		"organization_id", sel.OrganizationID,
		"timeframe", sel.Timeframe,
	)
	return s, nil
}

// SubscribeFunc is the callback form of Subscribe. fn runs on a dedicated goroutine,
// one snapshot at a time; returning false ends the subscription. The returned cancel
// waits for an in-flight fn to return and guarantees no later call, so it must not be
// called from inside fn.
func (n *Notifier) SubscribeFunc(ctx context.Context, sel Selector, fn func(Snapshot) bool) ([]store.Goal, func(), error) {
	sub, err := n.Subscribe(ctx, sel)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu      sync.Mutex
		stopped bool
	)
	go func() {
		for snap := range sub.C() {
			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			keep := fn(snap)
			if !keep {
				stopped = true
			}
			mu.Unlock()
			if !keep {
				sub.Cancel()
				return
			}
		}
	}()

	cancel := func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		sub.Cancel()
	}
	return sub.Initial(), cancel, nil
}

// Notify marks every subscription the change may affect as dirty. It never blocks
// and is safe to use as a changefeed.Handler.
func (n *Notifier) Notify(change changefeed.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs {
		if change.Affects(s.selector.OrganizationID, s.selector.Timeframe) {
			s.markDirty()
		}
	}
}

// RunResync marks every subscription dirty each interval until ctx is done. A zero
// interval disables it.
func (n *Notifier) RunResync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case at := <-ticker.C:
			n.Notify(changefeed.Resync("", at))
		}
	}
}

func (n *Notifier) Active() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close cancels every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	subs := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

type Subscription struct {
	id        uint64
	notifier  *Notifier
	selector  Selector
	ctx       context.Context
	cancelCtx context.CancelFunc

	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}

	mu        sync.Mutex
	out       chan Snapshot
	closed    bool
	stopAfter func() bool

	initial []store.Goal

	// Owned by the run goroutine.
	seq      uint64
	lastHash uint64
	failed   bool

	once sync.Once
}

func (s *Subscription) Initial() []store.Goal { return s.initial }

// C delivers snapshots after the initial one. It is closed by Cancel.
func (s *Subscription) C() <-chan Snapshot { return s.out }

func (s *Subscription) Selector() Selector { return s.selector }

// Done is closed once Cancel has started.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Refresh asks for a re-read even if no change was observed.
func (s *Subscription) Refresh() { s.markDirty() }

// Cancel stops the subscription. It is idempotent, and once it returns C is closed
// and drained so nothing further is received.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.notifier.remove(s.id)
		s.cancelCtx()
		close(s.done)
		<-s.stopped

		s.mu.Lock()
		s.closed = true
		for len(s.out) > 0 {
			<-s.out
		}
		close(s.out)
		s.mu.Unlock()

		s.notifier.observer.SubscriptionClosed()
		s.notifier.logger.Debug("subscription closed", "subscription", s.id)
	})
}

func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
		}
		s.refresh()
	}
}

func (s *Subscription) refresh() {
	goals, err := s.notifier.resolver.Resolve(s.ctx, s.selector)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.notifier.logger.Warn("subscription refresh failed", "subscription", s.id, "error", err)
		s.failed = true
		s.deliver(Snapshot{Err: err})
		return
	}

	hash := fingerprint(goals)
	if hash == s.lastHash && !s.failed {
		return
	}
	s.lastHash = hash
	s.failed = false
	s.deliver(Snapshot{Goals: goals})
}

func (s *Subscription) deliver(snap Snapshot) {
	s.seq++
	snap.Seq = s.seq
	snap.At = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.out <- snap:
			s.notifier.observer.SnapshotDelivered()
			return
		default:
		}
		select {
		case <-s.out:
			s.notifier.observer.SnapshotDropped()
		default:
		}
	}
}

// fingerprint hashes the canonical JSON of a normalized, sorted result set.
func fingerprint(goals []store.Goal) uint64 {
	h := xxhash.New()
	if err := json.NewEncoder(h).Encode(goals); err != nil {
		return 0
	}
	return h.Sum64()
}
