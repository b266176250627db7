// Package notify subscribes to the image service's push channel.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/lsst-camera-dev/recent-images/internal/metrics"
	"go.uber.org/zap"
)

// EventNewImage is the event the service sends when an image is written.
const EventNewImage = "newImage"

// DefaultRetryDelay is the pause before resubscribing after the channel drops.
const DefaultRetryDelay = 5 * time.Second

// Event is one server-sent event. Payloads are carried but not interpreted.
type Event struct {
	Name string
	Data []byte
}

// Source opens a push subscription. Subscribe blocks, calling handler for
// each event, until ctx is cancelled (returning nil) or the stream fails.
type Source interface {
	Subscribe(ctx context.Context, handler func(Event)) error
}

// ConnectionReporter is implemented by sources that know when their stream
// is actually established.
type ConnectionReporter interface {
	OnConnectionChange(fn func(connected bool))
}

// Listener keeps one subscription open for as long as its context lives and
// reports newImage events.
type Listener struct {
	source     Source
	logger     *zap.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration
	// reports is set when the source drives the connected gauge itself.
	reports bool
}

// NewListener creates a listener over source. m may be nil.
func NewListener(source Source, logger *zap.Logger, m *metrics.Metrics) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		source:     source,
		logger:     logger.Named("notify"),
		metrics:    m,
		retryDelay: DefaultRetryDelay,
	}
	if r, ok := source.(ConnectionReporter); ok {
		r.OnConnectionChange(m.SetPushConnected)
		l.reports = true
	}
	return l
}

// WithRetryDelay overrides the resubscribe delay.
func (l *Listener) WithRetryDelay(d time.Duration) *Listener {
	l.retryDelay = d
	return l
}

// Run subscribes and calls onNewImage for every newImage event until ctx is
// cancelled. Other event names are ignored. When the subscription ends with
// an error, Run logs it and subscribes again after the retry delay.
func (l *Listener) Run(ctx context.Context, onNewImage func()) {
	handler := func(ev Event) {
		l.metrics.PushEvent(ev.Name)
		if ev.Name != EventNewImage {
			l.logger.Debug("ignoring push event", zap.String("event", ev.Name))
			return
		}
		onNewImage()
	}

	for {
		if !l.reports {
			l.metrics.SetPushConnected(true)
		}
		err := l.source.Subscribe(ctx, handler)
		l.metrics.SetPushConnected(false)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("stream closed")
		}
		l.logger.Warn("push channel dropped, resubscribing",
			zap.Error(err), zap.Duration("retry_in", l.retryDelay))

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
