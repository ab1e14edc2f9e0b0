package pinning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
)

// Status values reported by a pinning service.
const (
	StatusQueued  Status = "queued"
	StatusPinning Status = "pinning"
	StatusPinned  Status = "pinned"
	StatusFailed  Status = "failed"
)

type (
	// Status is the state of a pin request as reported by the remote
	// service.
	Status string

	// A Pin is the object the service is asked to keep.
	Pin struct {
		CID     cid.Cid           `json:"cid"`
		Name    string            `json:"name,omitempty"`
		Origins []string          `json:"origins,omitempty"`
		Meta    map[string]string `json:"meta,omitempty"`
	}

	// PinStatus is the service's view of a pin request.
	PinStatus struct {
		RequestID string    `json:"requestid"`
		Status    Status    `json:"status"`
		Created   time.Time `json:"created"`
		Pin       Pin       `json:"pin"`
		Delegates []string  `json:"delegates"`
		// Info is the service's diagnostic payload. Values are kept as
		// decoded, so non-string values survive.
		Info map[string]any `json:"info,omitempty"`
	}

	// AddOptions are the optional fields of a pin request.
	AddOptions struct {
		Name string
		Meta map[string]string
		// Origins are the multiaddrs of nodes already holding the
		// content.
		Origins []string
	}

	// A ListFilter restricts the pins returned by List.
	ListFilter struct {
		CID    cid.Cid
		Status []Status
		Limit  int
	}

	// ListResponse is the result of a List call.
	ListResponse struct {
		Count   int         `json:"count"`
		Results []PinStatus `json:"results"`
	}
)

// Known returns true if s is one of the statuses defined by the pinning
// service API.
func (s Status) Known() bool {
	switch s {
	case StatusQueued, StatusPinning, StatusPinned, StatusFailed:
		return true
	}
	return false
}

// Terminal returns true if no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusPinned || s == StatusFailed
}

// MarshalJSON implements json.Marshaler. The CID is encoded as a plain
// string rather than the IPLD link form.
func (p Pin) MarshalJSON() ([]byte, error) {
	type pin Pin
	var c string
	if p.CID.Defined() {
		c = p.CID.String()
	}
	return json.Marshal(struct {
		CID string `json:"cid"`
		pin
	}{c, pin(p)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pin) UnmarshalJSON(b []byte) error {
	type pin Pin
	aux := struct {
		CID string `json:"cid"`
		*pin
	}{pin: (*pin)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	} else if aux.CID == "" {
		p.CID = cid.Undef
		return nil
	}
	c, err := cid.Parse(aux.CID)
	if err != nil {
		return fmt.Errorf("failed to parse pin cid %q: %w", aux.CID, err)
	}
	p.CID = c
	return nil
}
