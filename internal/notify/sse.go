package notify

import (
	"context"
	"net/http"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

// SSESource subscribes to a server-sent event stream.
type SSESource struct {
	url        string
	httpClient *http.Client
	onState    func(connected bool)
}

// NewSSESource creates a source for the event stream at url. httpClient may be
// nil; it must not set an overall timeout since the stream never ends.
func NewSSESource(url string, httpClient *http.Client) *SSESource {
	return &SSESource{url: url, httpClient: httpClient}
}

// OnConnectionChange implements ConnectionReporter. The stream counts as
// connected once its first event arrives.
func (s *SSESource) OnConnectionChange(fn func(connected bool)) {
	s.onState = fn
}

// Subscribe implements Source. Reconnection within one call follows the
// client library's exponential backoff, which stops when ctx is cancelled.
func (s *SSESource) Subscribe(ctx context.Context, handler func(Event)) error {
	client := sse.NewClient(s.url)
	if s.httpClient != nil {
		client.Connection = s.httpClient
	}
	client.ReconnectStrategy = backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if s.onState != nil {
		onState := s.onState
		client.OnConnect(func(*sse.Client) { onState(true) })
		client.OnDisconnect(func(*sse.Client) { onState(false) })
	}

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		handler(Event{Name: string(msg.Event), Data: msg.Data})
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
