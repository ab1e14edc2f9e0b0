package pin

import (
	"context"
	"sync"
	"time"

	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// delegateDialTimeout bounds the time spent dialing delegates before polling
// starts.
const delegateDialTimeout = 30 * time.Second

// connectDelegates dials every delegate address concurrently. Failures are
// logged and otherwise ignored; the service can still fetch the content
// through other paths.
func connectDelegates(ctx context.Context, store ContentStore, delegates []string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, delegateDialTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, delegate := range delegates {
		addr, err := multiaddr.NewMultiaddr(delegate)
		if err != nil {
			log.Warn("skipping invalid delegate address", zap.String("address", delegate), zap.Error(err))
			continue
		}

		wg.Add(1)
		go func(addr multiaddr.Multiaddr) {
			defer wg.Done()

			log := log.With(zap.Stringer("address", addr))
			start := time.Now()
			if err := store.Connect(ctx, addr); err != nil {
				log.Warn("failed to connect to delegate", zap.Error(err))
				return
			}
			log.Debug("connected to delegate", zap.Duration("elapsed", time.Since(start)))
		}(addr)
	}
	wg.Wait()
}
