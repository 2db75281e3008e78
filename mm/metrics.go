package mm

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Alloc()               {}
func (NoopMetrics) Free()                {}
func (NoopMetrics) AllocFail(FailReason) {}
func (NoopMetrics) Pool(free, used int)  {}

var _ Metrics = NoopMetrics{}
