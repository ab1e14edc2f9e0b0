package pin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multiaddr"
	"go.sia.tech/minty/pinning"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPollInterval is the delay between status checks.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultTimeout is the maximum time to wait for a pin request to reach
	// a terminal status.
	DefaultTimeout = 10 * time.Minute
)

type (
	// A Service is a remote pinning service.
	Service interface {
		Name() string
		Add(ctx context.Context, c cid.Cid, opts pinning.AddOptions) (pinning.PinStatus, error)
		Count(ctx context.Context, c cid.Cid) (int, error)
		Get(ctx context.Context, requestID string) (pinning.PinStatus, error)
	}

	// A ContentStore is the local node holding the content to be pinned.
	ContentStore interface {
		// Addrs returns the dialable addresses of the local node.
		Addrs() ([]multiaddr.Multiaddr, error)
		// Connect dials the given address.
		Connect(ctx context.Context, addr multiaddr.Multiaddr) error
	}

	// Options are the optional fields of a pin request.
	Options struct {
		Name string            `json:"name,omitempty"`
		Meta map[string]string `json:"meta,omitempty"`
	}

	// A Result is the outcome of a successful Pin call.
	Result struct {
		// AlreadyPinned is true if the service already had an active request
		// for the CID and no new request was made. Status is empty in that
		// case.
		AlreadyPinned bool
		// Status is the final status returned by the service.
		Status pinning.PinStatus
	}

	// A Coordinator drives pin requests on a single remote service from
	// submission to a terminal status. It is safe for concurrent use.
	Coordinator struct {
		service Service
		store   ContentStore
		log     *zap.Logger

		pollInterval time.Duration
		timeout      time.Duration

		mu       sync.Mutex
		gen      uint64
		calls    map[string]*call
		inflight singleflight.Group
	}

	// A call is a shared pin request. Its context is cancelled once every
	// caller waiting on it has returned.
	call struct {
		key     string
		ctx     context.Context
		cancel  context.CancelFunc
		waiters int
	}
)

// normalizeCID converts c to a v1 CID so that v0 and v1 encodings of the
// same content share a request.
func normalizeCID(c cid.Cid) cid.Cid {
	if c.Version() == 1 {
		return c
	}
	return cid.NewCidV1(c.Type(), c.Hash())
}

// checkStatus returns a ProtocolError if status cannot be acted on.
func checkStatus(status pinning.PinStatus) error {
	switch {
	case status.Status == "":
		return &ProtocolError{RequestID: status.RequestID, Reason: "response is missing required status field"}
	case !status.Status.Known():
		return &ProtocolError{RequestID: status.RequestID, Reason: fmt.Sprintf("unknown status %q", status.Status)}
	case !status.Status.Terminal() && status.RequestID == "":
		return &ProtocolError{Reason: "response is missing required requestid field"}
	}
	return nil
}

// Service returns the name of the coordinator's pinning service.
func (c *Coordinator) Service() string {
	return c.service.Name()
}

// Pin requests that the remote service pin root and waits until the request
// is pinned or failed. If the service already has an active request for
// root, Pin returns immediately without creating another one.
//
// Concurrent calls for the same CID share a single request and the options
// of the first caller. Cancelling ctx only stops the caller's own wait; the
// shared request stops once every caller has returned.
func (c *Coordinator) Pin(ctx context.Context, root cid.Cid, opts Options) (Result, error) {
	if !root.Defined() {
		return Result{}, errors.New("cid is required")
	}

	key := normalizeCID(root).KeyString()
	cl := c.join(ctx, key)
	defer c.leave(key, cl)

	ch := c.inflight.DoChan(cl.key, func() (any, error) {
		return c.pin(cl.ctx, root, opts)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// join registers the caller as a waiter on the shared request for key,
// creating it if necessary. The request's context keeps the caller's values
// but not its cancellation.
func (c *Coordinator) join(ctx context.Context, key string) *call {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.calls[key]
	if !ok {
		c.gen++
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		cl = &call{
			key:    fmt.Sprintf("%s/%d", key, c.gen),
			ctx:    callCtx,
			cancel: cancel,
		}
		c.calls[key] = cl
	}
	cl.waiters++
	return cl
}

// leave removes a waiter. The last waiter cancels the shared request.
func (c *Coordinator) leave(key string, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl.waiters--
	if cl.waiters > 0 {
		return
	}
	cl.cancel()
	if c.calls[key] == cl {
		delete(c.calls, key)
	}
}

func (c *Coordinator) pin(ctx context.Context, root cid.Cid, opts Options) (Result, error) {
	log := c.log.With(zap.Stringer("cid", root), zap.String("service", c.service.Name()))

	if pinned, err := c.alreadyPinned(ctx, root); err != nil {
		return Result{}, err
	} else if pinned {
		log.Info("cid already pinned, ignoring")
		return Result{AlreadyPinned: true}, nil
	}

	origins, err := c.origins()
	if err != nil {
		return Result{}, fmt.Errorf("failed to get origin addresses: %w", err)
	}

	log.Debug("requesting pin", zap.String("name", opts.Name), zap.Strings("origins", origins))
	status, err := c.service.Add(ctx, root, pinning.AddOptions{
		Name:    opts.Name,
		Meta:    opts.Meta,
		Origins: origins,
	})
	var te *pinning.TransportError
	if errors.As(err, &te) && te.Duplicate() {
		// another client requested the same pin between the check and
		// the add
		pinned, cerr := c.alreadyPinned(ctx, root)
		if cerr != nil {
			return Result{}, cerr
		} else if pinned {
			log.Info("cid pinned concurrently, ignoring")
			return Result{AlreadyPinned: true}, nil
		}
		return Result{}, fmt.Errorf("failed to add pin: %w", err)
	} else if err != nil {
		return Result{}, fmt.Errorf("failed to add pin: %w", err)
	}
	log = log.With(zap.String("requestID", status.RequestID))

	if err := checkStatus(status); err != nil {
		return Result{}, err
	}

	if len(status.Delegates) != 0 && c.store != nil {
		connectDelegates(ctx, c.store, status.Delegates, log.Named("delegates"))
	}

	status, err = c.wait(ctx, root, status, log)
	if err != nil {
		return Result{}, err
	}
	log.Info("cid pinned")
	return Result{Status: status}, nil
}

func (c *Coordinator) alreadyPinned(ctx context.Context, root cid.Cid) (bool, error) {
	n, err := c.service.Count(ctx, root)
	if err != nil {
		return false, fmt.Errorf("failed to check existing pins: %w", err)
	}
	return n > 0, nil
}

// origins returns the local node's addresses so the service can dial it
// directly instead of searching the DHT.
func (c *Coordinator) origins() ([]string, error) {
	if c.store == nil {
		return nil, nil
	}
	addrs, err := c.store.Addrs()
	if err != nil {
		return nil, err
	}
	origins := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		origins = append(origins, addr.String())
	}
	return origins, nil
}

// wait polls the service until the request reaches a terminal status.
func (c *Coordinator) wait(ctx context.Context, root cid.Cid, status pinning.PinStatus, log *zap.Logger) (pinning.PinStatus, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
		defer cancel()
	}

	requestID := status.RequestID
	for {
		if status.RequestID == "" {
			// some services omit the id on polled responses
			status.RequestID = requestID
		}
		if err := checkStatus(status); err != nil {
			return pinning.PinStatus{}, err
		}
		switch status.Status {
		case pinning.StatusFailed:
			return pinning.PinStatus{}, &FailedError{RequestID: requestID, CID: root, Info: status.Info}
		case pinning.StatusPinned:
			return status, nil
		}

		log.Debug("waiting for pin", zap.String("status", string(status.Status)), zap.Duration("interval", c.pollInterval))
		select {
		case <-ctx.Done():
			return pinning.PinStatus{}, context.Cause(ctx)
		case <-time.After(c.pollInterval):
		}

		next, err := c.service.Get(ctx, requestID)
		if ctx.Err() != nil {
			return pinning.PinStatus{}, context.Cause(ctx)
		} else if err != nil {
			return pinning.PinStatus{}, fmt.Errorf("failed to get pin status: %w", err)
		}
		status = next
	}
}

// NewCoordinator creates a coordinator for the given service. The content
// store may be nil if the content is already reachable by the service.
func NewCoordinator(service Service, store ContentStore, opts ...Option) *Coordinator {
	o := options{
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
		Log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Coordinator{
		service: service,
		store:   store,
		log:     o.Log,

		pollInterval: o.PollInterval,
		timeout:      o.Timeout,

		calls: make(map[string]*call),
	}
}
