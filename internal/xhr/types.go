// Package xhr correlates guest HTTP requests with host results over a
// channel endpoint and performs them against the upstream.
package xhr

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/iface"
)

type (
	Request  = iface.Request
	Response = iface.Response
	Result   = iface.Result
)

// ErrTimeout is returned when no correlated result arrived in time.
var ErrTimeout = errors.New("xhr: request timed out")

// RemoteError is a failure reported by the executing side.
type RemoteError struct {
	CID     string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("xhr: remote error: %s", e.Message)
}

// CIDSource generates correlation ids of the form <path>:<unix millis>:<counter>.
type CIDSource struct {
	counter atomic.Uint64
	now     func() time.Time
}

var processCIDs CIDSource

// Next returns a fresh correlation id for path.
func (s *CIDSource) Next(path string) string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	n := s.counter.Add(1)
	return fmt.Sprintf("%s:%d:%d", path, now().UnixMilli(), n)
}

func errorResult(msg string) Result {
	return Result{Error: &msg}
}
