package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"go.sia.tech/jape"
	"go.sia.tech/minty/api"
	"go.sia.tech/minty/build"
	mhttp "go.sia.tech/minty/http"
	"go.sia.tech/minty/ipfs"
	"go.sia.tech/minty/persist/badger"
	"go.sia.tech/minty/pin"
	"go.uber.org/zap"
)

var (
	serviceFlag = &cli.StringFlag{
		Name:    "service",
		Aliases: []string{"s"},
		Usage:   "Name of the pinning service to use. Defaults to the first configured service.",
	}
	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "Name to give the pin request.",
	}
	metaFlag = &cli.StringSliceFlag{
		Name:  "meta",
		Usage: "Metadata for the pin request as key=value. May be repeated.",
	}
	apiFlag = &cli.StringFlag{
		Name:  "api",
		Usage: "Address of a running minty API, e.g. http://localhost:8081/api. If unset, the local database is used.",
	}
	passwordFlag = &cli.StringFlag{
		Name:    "password",
		Usage:   "Password of the minty API.",
		EnvVars: []string{"MINTY_API_PASSWORD"},
	}

	cidVersionFlag = &cli.Uint64Flag{
		Name:  "cid-version",
		Value: 1,
		Usage: "CID version of the imported file. Version 0 implies --raw-leaves=false.",
	}
	rawLeavesFlag = &cli.BoolFlag{
		Name:  "raw-leaves",
		Value: true,
		Usage: "Store file data in raw leaf blocks.",
	}
	chunkSizeFlag = &cli.Int64Flag{
		Name:  "chunk-size",
		Value: 256 << 10,
		Usage: "Size of each leaf chunk in bytes.",
	}
	maxLinksFlag = &cli.IntFlag{
		Name:  "max-links",
		Value: 174,
		Usage: "Maximum number of children per intermediate node.",
	}
)

// unixFSOptions maps the import flags of c to importer options.
func unixFSOptions(c *cli.Context) []ipfs.UnixFSOption {
	version := c.Uint64(cidVersionFlag.Name)
	rawLeaves := c.Bool(rawLeavesFlag.Name)
	if version == 0 && !c.IsSet(rawLeavesFlag.Name) {
		rawLeaves = false
	}
	return []ipfs.UnixFSOption{
		ipfs.UnixFSWithCIDVersion(version),
		ipfs.UnixFSWithRawLeaves(rawLeaves),
		ipfs.UnixFSWithChunkSize(c.Int64(chunkSizeFlag.Name)),
		ipfs.UnixFSWithMaxLinks(c.Int(maxLinksFlag.Name)),
	}
}

// writeOutput copies r to the file at path, or to stdout if path is empty.
func writeOutput(path string, r io.Reader) (int64, error) {
	if path == "" {
		return io.Copy(os.Stdout, r)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("failed to write output file: %w", err)
	} else if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close output file: %w", err)
	}
	return n, nil
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		meta[k] = v
	}
	return meta, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openDatabase(dir string, log *zap.Logger) (*badger.Store, error) {
	db, err := badger.OpenDatabase(filepath.Join(dir, "minty.badgerdb"), log.Named("badger"))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// pinAndRecord pins root to the named service and stores the outcome, even
// if the request failed.
func pinAndRecord(ctx context.Context, pinners *pin.Pinners, db *badger.Store, root cid.Cid, service string, opts pin.Options, log *zap.Logger) (api.PinRecord, error) {
	coordinator, err := pinners.Get(service)
	if err != nil {
		return api.PinRecord{}, err
	}

	log.Info("pinning", zap.Stringer("cid", root), zap.String("service", coordinator.Service()))
	res, pinErr := coordinator.Pin(ctx, root, opts)
	record := api.NewPinRecord(coordinator.Service(), root, opts, res, pinErr)
	if err := db.AddPinRecord(record); err != nil {
		log.Error("failed to record pin", zap.Stringer("cid", root), zap.Error(err))
	}
	return record, pinErr
}

func serveCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the IPFS node and the minty API.",
		Action: func(c *cli.Context) error {
			ctx := c.Context
			dir := c.String("dir")

			db, err := openDatabase(dir, log)
			if err != nil {
				return err
			}
			defer db.Close()

			node, closeNode, err := openNode(ctx, dir, cfg.IPFS, log.Named("ipfs"))
			if err != nil {
				return err
			}
			defer closeNode()

			pinners, err := newPinners(cfg, node, log)
			if err != nil {
				return err
			}

			apiListener, err := net.Listen("tcp", cfg.API.Address)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			defer apiListener.Close()

			apiServer := &http.Server{
				Handler: jape.BasicAuth(cfg.API.Password)(mhttp.NewAPIHandler(node, pinners, db, log.Named("api"))),
			}
			defer apiServer.Close()

			go func() {
				if err := apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("failed to serve api", zap.Error(err))
				}
			}()

			log.Info("minty started",
				zap.Stringer("peerID", node.PeerID()),
				zap.String("apiAddress", apiListener.Addr().String()),
				zap.Strings("services", pinners.Names()),
				zap.String("version", build.Version()),
				zap.String("revision", build.Commit()),
				zap.Time("buildTime", build.Time()))

			<-ctx.Done()
			return nil
		},
	}
}

func addCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a file to IPFS and pin it to a remote pinning service.",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			serviceFlag,
			nameFlag,
			metaFlag,
			apiFlag,
			passwordFlag,
			&cli.BoolFlag{
				Name:  "car",
				Usage: "Import the file as a CAR archive with a single root.",
			},
			&cli.BoolFlag{
				Name:  "no-pin",
				Usage: "Only add the file to the local node.",
			},
			cidVersionFlag,
			rawLeavesFlag,
			chunkSizeFlag,
			maxLinksFlag,
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if c.NArg() != 1 {
				return errors.New("expected a single file")
			}
			path := c.Args().First()
			name := c.String("name")
			if name == "" {
				name = filepath.Base(path)
			}
			meta, err := parseMeta(c.StringSlice("meta"))
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()

			if addr := c.String("api"); addr != "" {
				if c.Bool("car") || len(meta) != 0 {
					return errors.New("--car and --meta are not supported with --api")
				}
				for _, fl := range []cli.Flag{cidVersionFlag, rawLeavesFlag, chunkSizeFlag, maxLinksFlag} {
					if name := fl.Names()[0]; c.IsSet(name) {
						return fmt.Errorf("--%s is not supported with --api", name)
					}
				}
				client := api.NewClient(addr, c.String("password"))
				resp, err := client.Upload(f, name, !c.Bool("no-pin"), c.String("service"))
				if err != nil {
					return err
				}
				return printJSON(resp)
			}

			db, err := openDatabase(c.String("dir"), log)
			if err != nil {
				return err
			}
			defer db.Close()

			node, closeNode, err := openNode(ctx, c.String("dir"), cfg.IPFS, log.Named("ipfs"))
			if err != nil {
				return err
			}
			defer closeNode()

			root, err := importFile(ctx, node, f, c.Bool("car"), unixFSOptions(c))
			if err != nil {
				return err
			}
			log.Info("added file", zap.Stringer("cid", root), zap.String("uri", pin.URI(root)))

			resp := api.UploadResponse{CID: root, URI: pin.URI(root)}
			if !c.Bool("no-pin") {
				pinners, err := newPinners(cfg, node, log)
				if err != nil {
					return err
				}
				record, err := pinAndRecord(ctx, pinners, db, root, c.String("service"), pin.Options{Name: name, Meta: meta}, log)
				if err != nil {
					return err
				}
				resp.Pin = &record
			}
			return printJSON(resp)
		},
	}
}

func importFile(ctx context.Context, node *ipfs.Node, r io.Reader, isCAR bool, opts []ipfs.UnixFSOption) (cid.Cid, error) {
	if !isCAR {
		return node.AddFile(ctx, r, opts...)
	}
	roots, err := node.ImportCAR(ctx, r)
	if err != nil {
		return cid.Undef, err
	} else if len(roots) != 1 {
		return cid.Undef, fmt.Errorf("expected a single root, got %d", len(roots))
	}
	return roots[0], nil
}

func pinCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "pin",
		Usage:     "Pin a CID to a remote pinning service.",
		ArgsUsage: "<cid|ipfs://cid>",
		Flags: []cli.Flag{
			serviceFlag,
			nameFlag,
			metaFlag,
			apiFlag,
			passwordFlag,
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if c.NArg() != 1 {
				return errors.New("expected a single cid")
			}
			root, err := pin.ParseCID(c.Args().First())
			if err != nil {
				return err
			}
			meta, err := parseMeta(c.StringSlice("meta"))
			if err != nil {
				return err
			}

			if addr := c.String("api"); addr != "" {
				client := api.NewClient(addr, c.String("password"))
				record, err := client.Pin(root, api.PinRequest{
					Service: c.String("service"),
					Name:    c.String("name"),
					Meta:    meta,
				})
				if err != nil {
					return err
				}
				return printJSON(record)
			}

			db, err := openDatabase(c.String("dir"), log)
			if err != nil {
				return err
			}
			defer db.Close()

			// the node serves any local blocks of root to the pinning service
			node, closeNode, err := openNode(ctx, c.String("dir"), cfg.IPFS, log.Named("ipfs"))
			if err != nil {
				return err
			}
			defer closeNode()

			pinners, err := newPinners(cfg, node, log)
			if err != nil {
				return err
			}
			record, err := pinAndRecord(ctx, pinners, db, root, c.String("service"), pin.Options{Name: c.String("name"), Meta: meta}, log)
			if err != nil {
				return err
			}
			return printJSON(record)
		},
	}
}

func getCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download a UnixFS file from IPFS.",
		ArgsUsage: "<cid|ipfs://cid/path>",
		Flags: []cli.Flag{
			apiFlag,
			passwordFlag,
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write to. Defaults to stdout.",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if c.NArg() != 1 {
				return errors.New("expected a single cid")
			}
			root, path, err := pin.ParseURI(c.Args().First())
			if err != nil {
				return err
			}

			var r io.ReadCloser
			if addr := c.String("api"); addr != "" {
				r, err = api.NewClient(addr, c.String("password")).Content(root, path)
				if err != nil {
					return err
				}
			} else {
				node, closeNode, err := openNode(ctx, c.String("dir"), cfg.IPFS, log.Named("ipfs"))
				if err != nil {
					return err
				}
				defer closeNode()

				r, err = node.OpenFile(ctx, root, path)
				if err != nil {
					return err
				}
			}
			defer r.Close()

			n, err := writeOutput(c.String("output"), r)
			if err != nil {
				return err
			}
			log.Debug("downloaded file", zap.Stringer("cid", root), zap.Strings("path", path), zap.Int64("bytes", n))
			return nil
		},
	}
}

func statusCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the recorded pin requests for a CID.",
		ArgsUsage: "<cid|ipfs://cid>",
		Flags:     []cli.Flag{apiFlag, passwordFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("expected a single cid")
			}
			root, err := pin.ParseCID(c.Args().First())
			if err != nil {
				return err
			}

			var records []api.PinRecord
			if addr := c.String("api"); addr != "" {
				records, err = api.NewClient(addr, c.String("password")).PinRecords(root)
			} else {
				var db *badger.Store
				db, err = openDatabase(c.String("dir"), log)
				if err != nil {
					return err
				}
				defer db.Close()
				records, err = db.PinRecords(root)
			}
			if err != nil {
				return err
			} else if len(records) == 0 {
				return fmt.Errorf("no pin records for %s", root)
			}
			return printJSON(records)
		},
	}
}

func lsCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "List recorded pin requests.",
		Flags: []cli.Flag{
			apiFlag,
			passwordFlag,
			&cli.IntFlag{
				Name:  "offset",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 100,
			},
		},
		Action: func(c *cli.Context) error {
			offset, limit := c.Int("offset"), c.Int("limit")

			var records []api.PinRecord
			var err error
			if addr := c.String("api"); addr != "" {
				records, err = api.NewClient(addr, c.String("password")).AllPinRecords(offset, limit)
			} else {
				var db *badger.Store
				db, err = openDatabase(c.String("dir"), log)
				if err != nil {
					return err
				}
				defer db.Close()
				records, err = db.AllPinRecords(offset, limit)
			}
			if err != nil {
				return err
			}

			for _, r := range records {
				status := string(r.Status)
				if r.AlreadyPinned {
					status = "already pinned"
				} else if status == "" {
					status = "error"
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", pin.URI(r.CID), r.Service, status, r.Name)
			}
			return nil
		},
	}
}
