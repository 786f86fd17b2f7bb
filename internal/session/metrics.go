package session

import (
	"time"

	"github.com/l9p/l9p/internal/proto"
)

// Metrics is the observability seam a Session reports through. The
// dispatcher never depends on Prometheus directly; internal/metrics
// supplies the production implementation.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	RequestStarted(msgType uint8)
	RequestFinished(msgType uint8, dur time.Duration, errno proto.Errno)
	BytesTransferred(direction string, n int)
	FidCount(n int)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()                                 {}
func (noopMetrics) ConnectionClosed()                                 {}
func (noopMetrics) RequestStarted(uint8)                              {}
func (noopMetrics) RequestFinished(uint8, time.Duration, proto.Errno) {}
func (noopMetrics) BytesTransferred(string, int)                      {}
func (noopMetrics) FidCount(int)                                      {}
