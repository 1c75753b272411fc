package model

// SignalTuple summarizes one subject's interactions within a scope.
// It is derived on demand and never persisted.
type SignalTuple struct {
	Views    int64
	AvgDwell float64
	Clicks   int64
}

// IsZero reports whether the tuple carries no signal.
func (s SignalTuple) IsZero() bool {
	return s.Views == 0 && s.AvgDwell == 0 && s.Clicks == 0
}
