package wrapper

import (
	"sync"

	"github.com/gaspardpetit/gamebridge/internal/channel"
)

// LocalFrame is a Frame whose endpoint is provided once the embedded game
// context has started.
type LocalFrame struct {
	mu   sync.Mutex
	ep   *channel.Endpoint
	errs chan error
}

// NewLocalFrame returns a frame without endpoint.
func NewLocalFrame() *LocalFrame {
	return &LocalFrame{errs: make(chan error, 8)}
}

// Attach makes ep available to the wrapper.
func (f *LocalFrame) Attach(ep *channel.Endpoint) {
	f.mu.Lock()
	f.ep = ep
	f.mu.Unlock()
}

// Endpoint implements Frame.
func (f *LocalFrame) Endpoint() *channel.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ep
}

// Errors implements Frame.
func (f *LocalFrame) Errors() <-chan error { return f.errs }

// ReportError queues err for the wrapper. It never blocks; errors beyond the buffer are dropped.
func (f *LocalFrame) ReportError(err error) {
	select {
	case f.errs <- err:
	default:
	}
}
