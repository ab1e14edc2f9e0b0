package pin

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ipfs/go-cid"
)

// ErrTimeout is returned when a pin request does not reach a terminal
// status before the coordinator's timeout.
var ErrTimeout = errors.New("timed out waiting for pin request")

type (
	// A ProtocolError is returned when the pinning service sends a response
	// that violates the pinning service API. No further polling occurs.
	ProtocolError struct {
		RequestID string
		Reason    string
	}

	// A FailedError is returned when the pinning service reports that a pin
	// request failed. Info is the service's diagnostic payload, unchanged.
	FailedError struct {
		RequestID string
		CID       cid.Cid
		Info      map[string]any
	}
)

func (e *ProtocolError) Error() string {
	if e.RequestID == "" {
		return "pinning service protocol violation: " + e.Reason
	}
	return fmt.Sprintf("pinning service protocol violation for request %q: %s", e.RequestID, e.Reason)
}

func (e *FailedError) Error() string {
	msg := fmt.Sprintf("pin request %q for %s failed", e.RequestID, e.CID)
	if len(e.Info) == 0 {
		return msg
	}

	keys := make([]string, 0, len(e.Info))
	for k := range e.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Info[k]))
	}
	return msg + ": " + strings.Join(pairs, ", ")
}
