package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
	"go.sia.tech/jape"
)

// A Client is a client for the minty API.
type Client struct {
	c jape.Client
}

// State returns the state of the running node.
func (c *Client) State() (resp StateResponse, err error) {
	err = c.c.GET("/state", &resp)
	return
}

// Pin requests that the node pin a CID to a remote service and waits for
// the request to complete.
func (c *Client) Pin(root cid.Cid, req PinRequest) (record PinRecord, err error) {
	err = c.c.POST(fmt.Sprintf("/pins/%s", root), req, &record)
	return
}

// PinRecords returns the recorded pin requests for a CID.
func (c *Client) PinRecords(root cid.Cid) (records []PinRecord, err error) {
	err = c.c.GET(fmt.Sprintf("/pins/%s", root), &records)
	return
}

// AllPinRecords returns recorded pin requests for all CIDs.
func (c *Client) AllPinRecords(offset, limit int) (records []PinRecord, err error) {
	values := url.Values{}
	values.Set("offset", fmt.Sprint(offset))
	values.Set("limit", fmt.Sprint(limit))
	err = c.c.GET("/pins?"+values.Encode(), &records)
	return
}

// Upload adds the contents of r to the node. If pin is true, the resulting
// CID is pinned to the named service.
func (c *Client) Upload(r io.Reader, name string, pin bool, service string) (resp UploadResponse, err error) {
	values := url.Values{}
	values.Set("name", name)
	values.Set("pin", fmt.Sprint(pin))
	values.Set("service", service)

	req, err := http.NewRequest(http.MethodPost, c.c.BaseURL+"/upload?"+values.Encode(), r)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.SetBasicAuth("", c.c.Password)

	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		return UploadResponse{}, err
	}
	defer r2.Body.Close()
	if err := checkResponse(r2); err != nil {
		return UploadResponse{}, fmt.Errorf("upload failed: %w", err)
	}
	err = json.NewDecoder(r2.Body).Decode(&resp)
	return
}

// Content returns the UnixFS file at path below root. The caller must close
// the returned reader.
func (c *Client) Content(root cid.Cid, path []string) (io.ReadCloser, error) {
	values := url.Values{}
	values.Set("path", strings.Join(path, "/"))

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/content/%s?%s", c.c.BaseURL, root, values.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth("", c.c.Password)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	} else if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return resp.Body, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

// NewClient creates a new API client. The address should include the /api
// prefix.
func NewClient(address, password string) *Client {
	return &Client{
		c: jape.Client{
			BaseURL:  address,
			Password: password,
		},
	}
}
