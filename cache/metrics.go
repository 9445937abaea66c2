package cache

import "time"

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit(int) {}
func (NoopMetrics) Miss(int) {}
func (NoopMetrics) RemoteFetch(string, int, time.Duration) {}
func (NoopMetrics) Populated(int, int64) {}

var _ Metrics = NoopMetrics{}
