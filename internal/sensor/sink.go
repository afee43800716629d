package sensor

// Sink receives every enriched frame. Send is called synchronously on the
// delivery goroutine and must return quickly.
type Sink interface {
	Send(f *SensorFrame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f *SensorFrame)

// Send calls fn(f).
func (fn SinkFunc) Send(f *SensorFrame) { fn(f) }

// MultiSink fans a frame out to each sink in order.
type MultiSink []Sink

// Send forwards f to every non-nil sink.
func (m MultiSink) Send(f *SensorFrame) {
	for _, s := range m {
		if s != nil {
			s.Send(f)
		}
	}
}
