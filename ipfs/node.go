package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ipfs/boxo/bitswap"
	bnetwork "github.com/ipfs/boxo/bitswap/network"
	"github.com/ipfs/boxo/blockservice"
	"github.com/ipfs/boxo/blockstore"
	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/boxo/provider"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	format "github.com/ipfs/go-ipld-format"
	"github.com/ipld/go-car/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
	"go.sia.tech/minty/config"
	"go.uber.org/zap"
)

var bootstrapPeers = []peer.AddrInfo{
	mustParsePeer("/dnsaddr/bootstrap.libp2p.io/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"),
	mustParsePeer("/dnsaddr/bootstrap.libp2p.io/p2p/QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa"),
	mustParsePeer("/dnsaddr/bootstrap.libp2p.io/p2p/QmbLHAnMoJPWSCR5Zhtx6BHJX9KiKNN6tpvbUcqanj75Nb"),
	mustParsePeer("/dnsaddr/bootstrap.libp2p.io/p2p/QmcZf59bWwK5XFi76CZX8cbJ4BhTzzA3gU1ZjYZcYW3dwt"),
	mustParsePeer("/ip4/104.131.131.82/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ"),
	mustParsePeer("/ip4/104.131.131.82/udp/4001/quic/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ"),
}

// A Node is a minimal IPFS node. It holds local content and serves it over
// bitswap so a remote pinning service can fetch it.
type Node struct {
	log  *zap.Logger
	host host.Host
	dht  *dht.IpfsDHT

	blockService blockservice.BlockService
	dagService   format.DAGService
	bitswap      *bitswap.Bitswap
	provider     provider.System
}

// Close closes the node
func (n *Node) Close() error {
	n.provider.Close()
	n.bitswap.Close()
	n.dht.Close()
	n.blockService.Close()
	return n.host.Close()
}

// HasBlock checks if a block is stored locally
func (n *Node) HasBlock(ctx context.Context, c cid.Cid) (bool, error) {
	return n.blockService.Blockstore().Has(ctx, c)
}

// PeerID returns the peer ID of the node
func (n *Node) PeerID() peer.ID {
	return n.host.ID()
}

// Addrs returns the node's dialable addresses, including its peer ID.
func (n *Node) Addrs() ([]multiaddr.Multiaddr, error) {
	return peer.AddrInfoToP2pAddrs(&peer.AddrInfo{
		ID:    n.host.ID(),
		Addrs: n.host.Addrs(),
	})
}

// Connect dials the peer at addr. The address must include a /p2p
// component.
func (n *Node) Connect(ctx context.Context, addr multiaddr.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("failed to parse peer address %q: %w", addr, err)
	} else if info.ID == n.host.ID() {
		return errors.New("cannot connect to self")
	}

	start := time.Now()
	if err := n.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("failed to connect to %q: %w", info.ID, err)
	}
	n.log.Debug("connected to peer", zap.Stringer("peerID", info.ID), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// ImportCAR adds all blocks in a CAR file to the node and returns the CAR's
// roots. The input reader must be a valid CARv1 or CARv2 file.
func (n *Node) ImportCAR(ctx context.Context, r io.Reader) ([]cid.Cid, error) {
	log := n.log.Named("ImportCAR")
	cr, err := car.NewBlockReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create block reader: %w", err)
	}

	var count int
	for {
		block, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read block: %w", err)
		} else if err := n.blockService.AddBlock(ctx, block); err != nil {
			return nil, fmt.Errorf("failed to add block %q: %w", block.Cid(), err)
		}
		count++
		log.Debug("added block", zap.Stringer("cid", block.Cid()))
	}

	for _, root := range cr.Roots {
		if err := n.provider.Provide(root); err != nil {
			log.Warn("failed to provide root", zap.Stringer("cid", root), zap.Error(err))
		}
	}
	log.Debug("imported car", zap.Int("blocks", count), zap.Int("roots", len(cr.Roots)))
	return cr.Roots, nil
}

func mustParsePeer(s string) peer.AddrInfo {
	info, err := peer.AddrInfoFromString(s)
	if err != nil {
		panic(err)
	}
	return *info
}

func parseDHTMode(s string) (dht.ModeOpt, error) {
	switch s {
	case "", "client":
		return dht.ModeClient, nil
	case "server":
		return dht.ModeServer, nil
	case "auto":
		return dht.ModeAuto, nil
	}
	return 0, fmt.Errorf("unknown dht mode %q", s)
}

// NewNode creates a new IPFS node
func NewNode(ctx context.Context, privateKey crypto.PrivKey, cfg config.IPFS, ds datastore.Batching, bs blockstore.Blockstore, log *zap.Logger) (*Node, error) {
	mode, err := parseDHTMode(cfg.DHTMode)
	if err != nil {
		return nil, err
	}

	cmgr, err := connmgr.NewConnManager(600, 900)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	limiter := rcmgr.NewFixedLimiter(rcmgr.InfiniteLimits)
	rm, err := rcmgr.NewResourceManager(limiter, rcmgr.WithMetricsDisabled())
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(cfg.ListenAddresses...),
		libp2p.ConnectionManager(cmgr),
		libp2p.Identity(privateKey),
		libp2p.EnableRelay(),
		libp2p.ResourceManager(rm),
		libp2p.DefaultPeerstore,
		libp2p.DefaultTransports,
	}

	if len(cfg.AnnounceAddresses) != 0 {
		var addrs []multiaddr.Multiaddr
		for _, as := range cfg.AnnounceAddresses {
			addr, err := multiaddr.NewMultiaddr(as)
			if err != nil {
				return nil, fmt.Errorf("failed to parse announce address %q: %w", as, err)
			}
			addrs = append(addrs, addr)
		}
		opts = append(opts, libp2p.AddrsFactory(func([]multiaddr.Multiaddr) []multiaddr.Multiaddr {
			return addrs
		}))
	}

	host, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	dhtOpts := []dht.Option{
		dht.Mode(mode),
		dht.BucketSize(20),
		dht.Concurrency(30),
		dht.Datastore(ds),
	}
	if cfg.Bootstrap {
		dhtOpts = append(dhtOpts, dht.BootstrapPeers(bootstrapPeers...))
	}
	router, err := dht.New(ctx, host, dhtOpts...)
	if err != nil {
		host.Close()
		return nil, fmt.Errorf("failed to create dht: %w", err)
	}

	bitswapOpts := []bitswap.Option{
		bitswap.EngineBlockstoreWorkerCount(600),
		bitswap.TaskWorkerCount(600),
		bitswap.MaxOutstandingBytesPerPeer(int(5 << 20)),
		bitswap.ProvideEnabled(true),
	}

	bitswapNet := bnetwork.NewFromIpfsHost(host, router)
	bitswap := bitswap.New(ctx, bitswapNet, bs, bitswapOpts...)

	blockServ := blockservice.New(bs, bitswap)
	dagService := merkledag.NewDAGService(blockServ)

	providerOpts := []provider.Option{
		provider.KeyProvider(provider.NewBlockstoreProvider(bs)),
		provider.Online(router),
		provider.ReproviderInterval(18 * time.Hour),
	}

	prov, err := provider.New(ds, providerOpts...)
	if err != nil {
		bitswap.Close()
		router.Close()
		host.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	for _, p := range cfg.Peers {
		mh := make([]multiaddr.Multiaddr, 0, len(p.Addresses))
		for _, addr := range p.Addresses {
			maddr, err := multiaddr.NewMultiaddr(addr)
			if err != nil {
				return nil, fmt.Errorf("failed to parse multiaddr %q: %w", addr, err)
			}
			mh = append(mh, maddr)
		}

		host.Peerstore().AddAddrs(p.ID, mh, peerstore.PermanentAddrTTL)
	}

	if cfg.Bootstrap {
		if err := router.Bootstrap(ctx); err != nil {
			log.Warn("failed to bootstrap dht", zap.Error(err))
		}
		for _, p := range bootstrapPeers {
			go func(p peer.AddrInfo) {
				ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				if err := host.Connect(ctx, p); err != nil {
					log.Debug("failed to connect to bootstrap peer", zap.Stringer("peerID", p.ID), zap.Error(err))
				}
			}(p)
		}
	}

	return &Node{
		log:          log,
		dht:          router,
		host:         host,
		bitswap:      bitswap,
		blockService: blockServ,
		dagService:   dagService,
		provider:     prov,
	}, nil
}
