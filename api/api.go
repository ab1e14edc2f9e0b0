package api

import (
	"errors"
	"time"

	"github.com/ipfs/go-cid"
	"go.sia.tech/minty/pin"
	"go.sia.tech/minty/pinning"
)

type (
	// A PinRecord is the recorded outcome of a pin request.
	PinRecord struct {
		CID     cid.Cid `json:"cid"`
		Service string  `json:"service"`
		Name    string  `json:"name,omitempty"`

		// AlreadyPinned is true if the service already had an active
		// request for the CID.
		AlreadyPinned bool           `json:"alreadyPinned"`
		RequestID     string         `json:"requestID,omitempty"`
		Status        pinning.Status `json:"status,omitempty"`
		Info          map[string]any `json:"info,omitempty"`
		// Error is set if the request did not complete.
		Error string `json:"error,omitempty"`

		UpdatedAt time.Time `json:"updatedAt"`
	}

	// PinRequest is the request body of POST /api/pins/:cid
	PinRequest struct {
		// Service is the name of the pinning service. If empty, the
		// default service is used.
		Service string            `json:"service,omitempty"`
		Name    string            `json:"name,omitempty"`
		Meta    map[string]string `json:"meta,omitempty"`
	}

	// UploadResponse is the response body of POST /api/upload
	UploadResponse struct {
		CID cid.Cid    `json:"cid"`
		URI string     `json:"uri"`
		Pin *PinRecord `json:"pin,omitempty"`
	}

	// StateResponse is the response body of GET /api/state
	StateResponse struct {
		PeerID    string   `json:"peerID"`
		Addresses []string `json:"addresses"`
		Services  []string `json:"services"`
		Version   string   `json:"version"`
		Commit    string   `json:"commit"`
	}
)

// NewPinRecord returns the record of a completed pin call.
func NewPinRecord(service string, c cid.Cid, opts pin.Options, res pin.Result, err error) PinRecord {
	record := PinRecord{
		CID:           c,
		Service:       service,
		Name:          opts.Name,
		AlreadyPinned: res.AlreadyPinned,
		RequestID:     res.Status.RequestID,
		Status:        res.Status.Status,
		Info:          res.Status.Info,
		UpdatedAt:     time.Now(),
	}

	var fe *pin.FailedError
	if errors.As(err, &fe) {
		record.RequestID = fe.RequestID
		record.Status = pinning.StatusFailed
		record.Info = fe.Info
	}
	if err != nil {
		record.Error = err.Error()
	}
	return record
}
