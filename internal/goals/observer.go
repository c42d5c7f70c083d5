package goals

// Observer receives engine events for instrumentation. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	SubscriptionOpened()
	SubscriptionClosed()
	SnapshotDelivered()
	SnapshotDropped()
	TransitionFinished(state TransitionState)
}

type NopObserver struct{}

func (NopObserver) SubscriptionOpened()                 {}
func (NopObserver) SubscriptionClosed()                 {}
func (NopObserver) SnapshotDelivered()                  {}
func (NopObserver) SnapshotDropped()                    {}
func (NopObserver) TransitionFinished(TransitionState) {}
