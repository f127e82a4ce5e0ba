package connectivity

// Manual is a monitor driven by the host application, for platforms that
// deliver their own network notifications and for tests.
type Manual struct {
	*broadcaster
}

var _ Monitor = (*Manual)(nil)

// NewManual creates a manual monitor in the initial state.
func NewManual(initial State, opts ...Option) *Manual {
	o := applyOptions(opts)
	return &Manual{broadcaster: newBroadcaster("manual", initial, o.logger, o.registry)}
}

// SetState changes the state, notifying subscribers on a transition. It
// reports whether the state changed.
func (m *Manual) SetState(s State) bool {
	return m.set(s)
}

// SetOnline is SetState(Online) or SetState(Offline).
func (m *Manual) SetOnline(online bool) bool {
	if online {
		return m.set(Online)
	}
	return m.set(Offline)
}
