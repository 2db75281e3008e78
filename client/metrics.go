package client

// Metrics exposes access-path observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	// GhostHit is a miss on a recently evicted key; fresh reports whether
	// the ghost was still inside the history window.
	GhostHit(fresh bool)
	Size(entries int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()          {}
func (NoopMetrics) Miss()         {}
func (NoopMetrics) GhostHit(bool) {}
func (NoopMetrics) Size(int)      {}

var _ Metrics = NoopMetrics{}
