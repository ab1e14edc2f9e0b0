package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ipfs/boxo/blockstore"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"go.sia.tech/minty/config"
	"go.sia.tech/minty/ipfs"
	"go.sia.tech/minty/pin"
	"go.sia.tech/minty/pinning"
	"go.uber.org/zap"
	"lukechampine.com/frand"
)

// loadPrivateKey parses the configured node key. If no key is configured, a
// new one is generated.
func loadPrivateKey(s string) (crypto.PrivKey, error) {
	if s == "" {
		key, _, err := crypto.GenerateEd25519Key(frand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		return key, nil
	}

	buf, err := hex.DecodeString(strings.TrimPrefix(s, "ed25519:"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	} else if len(buf) != 64 {
		return nil, errors.New("private key must be 64 bytes")
	}
	key, err := crypto.UnmarshalEd25519PrivateKey(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal private key: %w", err)
	}
	return key, nil
}

// openNode starts the local IPFS node. Blocks and routing state are kept in
// a leveldb datastore in the data directory.
func openNode(ctx context.Context, dir string, cfg config.IPFS, log *zap.Logger) (*ipfs.Node, func(), error) {
	privateKey, err := loadPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	ds, err := leveldb.NewDatastore(filepath.Join(dir, "ipfs.leveldb"), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open datastore: %w", err)
	}
	bs := blockstore.NewBlockstore(ds)

	node, err := ipfs.NewNode(ctx, privateKey, cfg, ds, bs, log)
	if err != nil {
		ds.Close()
		return nil, nil, fmt.Errorf("failed to start ipfs node: %w", err)
	}

	return node, func() {
		if err := node.Close(); err != nil {
			log.Error("failed to close node", zap.Error(err))
		}
		if err := ds.Close(); err != nil {
			log.Error("failed to close datastore", zap.Error(err))
		}
	}, nil
}

// newPinners creates a coordinator for each configured pinning service. The
// default service is registered first.
func newPinners(cfg config.Config, store pin.ContentStore, log *zap.Logger) (*pin.Pinners, error) {
	services := append([]config.PinningService(nil), cfg.Pinning...)
	if cfg.DefaultService != "" {
		i := -1
		for j, svc := range services {
			if svc.Name == cfg.DefaultService {
				i = j
				break
			}
		}
		if i == -1 {
			return nil, fmt.Errorf("default pinning service %q is not configured", cfg.DefaultService)
		}
		services[0], services[i] = services[i], services[0]
	}

	opts := []pin.Option{
		pin.WithPollInterval(cfg.Pin.PollInterval),
		pin.WithTimeout(cfg.Pin.Timeout),
	}

	pinners := pin.NewPinners()
	for _, svc := range services {
		client, err := pinning.NewClient(svc, pinning.WithLog(log.Named("pinning").Named(svc.Name)))
		if err != nil {
			return nil, err
		}
		c := pin.NewCoordinator(client, store, append(opts, pin.WithLog(log.Named("pin").Named(svc.Name)))...)
		if err := pinners.Add(c); err != nil {
			return nil, err
		}
	}
	return pinners, nil
}
