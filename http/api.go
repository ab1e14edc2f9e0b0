package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.sia.tech/jape"
	"go.sia.tech/minty/api"
	"go.sia.tech/minty/build"
	"go.sia.tech/minty/ipfs"
	"go.sia.tech/minty/pin"
	"go.sia.tech/minty/pinning"
	"go.uber.org/zap"
)

type (
	// A Store records the outcome of pin requests
	Store interface {
		AddPinRecord(api.PinRecord) error
		PinRecords(cid.Cid) ([]api.PinRecord, error)
		AllPinRecords(offset, limit int) ([]api.PinRecord, error)
	}

	// A Node is the local IPFS node
	Node interface {
		PeerID() peer.ID
		Addrs() ([]multiaddr.Multiaddr, error)
		AddFile(ctx context.Context, r io.Reader, opts ...ipfs.UnixFSOption) (cid.Cid, error)
		OpenFile(ctx context.Context, root cid.Cid, path []string) (io.ReadSeekCloser, error)
	}

	apiServer struct {
		node    Node
		store   Store
		pinners *pin.Pinners
		log     *zap.Logger
	}
)

// errorStatus maps pin errors to an HTTP status code
func errorStatus(err error) int {
	var fe *pin.FailedError
	var pe *pin.ProtocolError
	var te *pinning.TransportError
	switch {
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pin.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe), errors.As(err, &te):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// pinCID pins c to the named service and records the outcome
func (as *apiServer) pinCID(ctx context.Context, c cid.Cid, service string, opts pin.Options) (api.PinRecord, error) {
	coordinator, err := as.pinners.Get(service)
	if err != nil {
		return api.PinRecord{}, err
	}

	res, err := coordinator.Pin(ctx, c, opts)
	record := api.NewPinRecord(coordinator.Service(), c, opts, res, err)
	if err := as.store.AddPinRecord(record); err != nil {
		as.log.Error("failed to record pin", zap.Stringer("cid", c), zap.Error(err))
	}
	return record, err
}

func (as *apiServer) handleGETState(jc jape.Context) {
	addrs, err := as.node.Addrs()
	if jc.Check("failed to get node addresses", err) != nil {
		return
	}

	resp := api.StateResponse{
		PeerID:   as.node.PeerID().String(),
		Services: as.pinners.Names(),
		Version:  build.Version(),
		Commit:   build.Commit(),
	}
	for _, addr := range addrs {
		resp.Addresses = append(resp.Addresses, addr.String())
	}
	jc.Encode(resp)
}

func (as *apiServer) handlePOSTPin(jc jape.Context) {
	var cidStr string
	if err := jc.DecodeParam("cid", &cidStr); err != nil {
		return
	}
	c, err := pin.ParseCID(cidStr)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	var req api.PinRequest
	if err := jc.Decode(&req); err != nil {
		return
	}

	record, err := as.pinCID(jc.Request.Context(), c, req.Service, pin.Options{Name: req.Name, Meta: req.Meta})
	if err != nil {
		jc.Error(err, errorStatus(err))
		return
	}
	jc.Encode(record)
}

func (as *apiServer) handleGETPin(jc jape.Context) {
	var cidStr string
	if err := jc.DecodeParam("cid", &cidStr); err != nil {
		return
	}
	c, err := pin.ParseCID(cidStr)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	records, err := as.store.PinRecords(c)
	if jc.Check("failed to get pin records", err) != nil {
		return
	} else if len(records) == 0 {
		jc.Error(errors.New("no pin records found"), http.StatusNotFound)
		return
	}
	jc.Encode(records)
}

func (as *apiServer) handleGETPins(jc jape.Context) {
	offset, limit := 0, 100
	if err := jc.DecodeForm("offset", &offset); err != nil {
		return
	} else if err := jc.DecodeForm("limit", &limit); err != nil {
		return
	} else if offset < 0 || limit <= 0 || limit > 1000 {
		jc.Error(errors.New("invalid offset or limit"), http.StatusBadRequest)
		return
	}

	records, err := as.store.AllPinRecords(offset, limit)
	if jc.Check("failed to get pin records", err) != nil {
		return
	}
	jc.Encode(records)
}

func (as *apiServer) handlePOSTUpload(jc jape.Context) {
	ctx := jc.Request.Context()

	var name, service string
	var remote bool
	if err := jc.DecodeForm("name", &name); err != nil {
		return
	} else if err := jc.DecodeForm("service", &service); err != nil {
		return
	} else if err := jc.DecodeForm("pin", &remote); err != nil {
		return
	}

	body := jc.Request.Body
	defer body.Close()

	c, err := as.node.AddFile(ctx, body)
	if jc.Check("failed to add file", err) != nil {
		return
	}
	as.log.Info("added file", zap.Stringer("cid", c), zap.String("name", name))

	resp := api.UploadResponse{
		CID: c,
		URI: pin.URI(c),
	}
	if remote {
		record, err := as.pinCID(ctx, c, service, pin.Options{Name: name})
		if err != nil {
			jc.Error(err, errorStatus(err))
			return
		}
		resp.Pin = &record
	}
	jc.Encode(resp)
}

func (as *apiServer) handleGETContent(jc jape.Context) {
	var cidStr, path string
	if err := jc.DecodeParam("cid", &cidStr); err != nil {
		return
	} else if err := jc.DecodeForm("path", &path); err != nil {
		return
	}
	c, err := pin.ParseCID(cidStr)
	if err != nil {
		jc.Error(err, http.StatusBadRequest)
		return
	}

	segments := strings.Split(path, "/")
	r, err := as.node.OpenFile(jc.Request.Context(), c, segments)
	if jc.Check("failed to open file", err) != nil {
		return
	}
	defer r.Close()

	name := c.String()
	if base := segments[len(segments)-1]; base != "" {
		name = base
	}
	// ServeContent handles range requests and sniffs the content type
	http.ServeContent(jc.ResponseWriter, jc.Request, name, time.Time{}, r)
}

// NewAPIHandler returns a new http.Handler that handles requests to the api
func NewAPIHandler(node Node, pinners *pin.Pinners, store Store, log *zap.Logger) http.Handler {
	s := &apiServer{
		node:    node,
		store:   store,
		pinners: pinners,
		log:     log,
	}
	return jape.Mux(map[string]jape.Handler{
		"GET /api/state": s.handleGETState,

		"POST /api/upload":      s.handlePOSTUpload,
		"GET /api/content/:cid": s.handleGETContent,

		"GET /api/pins":       s.handleGETPins,
		"GET /api/pins/:cid":  s.handleGETPin,
		"POST /api/pins/:cid": s.handlePOSTPin,
	})
}
