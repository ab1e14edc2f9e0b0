package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/boxo/ipld/unixfs/importer/balanced"
	ihelpers "github.com/ipfs/boxo/ipld/unixfs/importer/helpers"
	fsio "github.com/ipfs/boxo/ipld/unixfs/io"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"
)

type (
	importOptions struct {
		version   uint64
		rawLeaves bool
		maxLinks  int
		chunkSize int64
	}

	// A UnixFSOption changes how AddFile encodes a file.
	UnixFSOption func(*importOptions)
)

// UnixFSWithCIDVersion sets the CID version of the imported DAG. Version 0
// requires dag-pb leaves.
func UnixFSWithCIDVersion(v uint64) UnixFSOption {
	return func(o *importOptions) { o.version = v }
}

// UnixFSWithRawLeaves stores file data in raw blocks instead of wrapping each
// chunk in a dag-pb node.
func UnixFSWithRawLeaves(raw bool) UnixFSOption {
	return func(o *importOptions) { o.rawLeaves = raw }
}

// UnixFSWithMaxLinks caps the number of children of each intermediate node.
func UnixFSWithMaxLinks(n int) UnixFSOption {
	return func(o *importOptions) { o.maxLinks = n }
}

// UnixFSWithChunkSize sets the size of each leaf chunk in bytes.
func UnixFSWithChunkSize(n int64) UnixFSOption {
	return func(o *importOptions) { o.chunkSize = n }
}

func (o importOptions) builder() (cid.Builder, error) {
	switch o.version {
	case 0:
		if o.rawLeaves {
			return nil, errors.New("raw leaves require CIDv1")
		}
		return cid.V0Builder{}, nil
	case 1:
		return cid.V1Builder{Codec: uint64(multicodec.DagPb), MhType: multihash.SHA2_256}, nil
	}
	return nil, fmt.Errorf("unsupported cid version %d", o.version)
}

// resolvePath follows path through UnixFS directories starting at root.
// Empty segments are skipped.
func resolvePath(ctx context.Context, ds format.DAGService, root format.Node, path []string) (format.Node, error) {
	node := root
	for i, name := range path {
		if name == "" {
			continue
		}
		dir, err := fsio.NewDirectoryFromNode(ds, node)
		if err != nil {
			return nil, fmt.Errorf("/%s is not a directory: %w", strings.Join(path[:i], "/"), err)
		}
		node, err = dir.Find(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to find /%s: %w", strings.Join(path[:i+1], "/"), err)
		}
	}
	return node, nil
}

// OpenFile returns a reader for the UnixFS file at path below root. Blocks
// missing from the local store are fetched over bitswap.
func (n *Node) OpenFile(ctx context.Context, root cid.Cid, path []string) (io.ReadSeekCloser, error) {
	sess := merkledag.NewSession(ctx, n.dagService)

	rootNode, err := sess.Get(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", root, err)
	}

	node, err := resolvePath(ctx, n.dagService, rootNode, path)
	if err != nil {
		return nil, err
	}
	return fsio.NewDagReader(ctx, node, sess)
}

// AddFile imports r as a UnixFS file and announces the root to the network.
// By default the file is encoded as CIDv1 dag-pb with raw leaves.
func (n *Node) AddFile(ctx context.Context, r io.Reader, opts ...UnixFSOption) (cid.Cid, error) {
	o := importOptions{
		version:   1,
		rawLeaves: true,
		maxLinks:  ihelpers.DefaultLinksPerBlock,
		chunkSize: chunker.DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	builder, err := o.builder()
	if err != nil {
		return cid.Undef, err
	} else if o.maxLinks < 2 {
		return cid.Undef, fmt.Errorf("max links must be at least 2, got %d", o.maxLinks)
	} else if o.chunkSize <= 0 || o.chunkSize > int64(chunker.ChunkSizeLimit) {
		return cid.Undef, fmt.Errorf("chunk size must be between 1 and %d bytes", chunker.ChunkSizeLimit)
	}

	params := ihelpers.DagBuilderParams{
		Dagserv:    n.dagService,
		CidBuilder: builder,
		RawLeaves:  o.rawLeaves,
		Maxlinks:   o.maxLinks,
	}
	db, err := params.New(chunker.NewSizeSplitter(r, o.chunkSize))
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to create dag builder: %w", err)
	}

	rootNode, err := balanced.Layout(db)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to build dag: %w", err)
	}

	root := rootNode.Cid()
	if err := n.provider.Provide(root); err != nil {
		n.log.Warn("failed to provide root", zap.Stringer("cid", root), zap.Error(err))
	}
	n.log.Debug("added file", zap.Stringer("cid", root), zap.Uint64("version", o.version), zap.Bool("rawLeaves", o.rawLeaves))
	return root, nil
}
