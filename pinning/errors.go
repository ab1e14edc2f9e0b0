package pinning

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// reasonDuplicate is the error reason some services return when a CID is
// already pinned or queued.
const reasonDuplicate = "DUPLICATE_OBJECT"

type (
	// A ConfigError is returned when a pinning service cannot be configured.
	// It is never retried.
	ConfigError struct {
		Service string
		Field   string
		Err     error
	}

	// A TransportError is returned when the pinning service responds with a
	// non-2xx status code.
	TransportError struct {
		StatusCode int
		// Reason and Details are set when the service returned a JSON error
		// body.
		Reason  string
		Details string
		// JSON is the decoded body when the service returned JSON.
		JSON any
		// Body is the raw response body.
		Body string
	}
)

func (e *ConfigError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("invalid pinning service config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid config for pinning service %q: %s: %v", e.Service, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *TransportError) Error() string {
	status := fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	switch {
	case e.Reason != "" && e.Details != "":
		return fmt.Sprintf("pinning service returned %s: %s: %s", status, e.Reason, e.Details)
	case e.Reason != "":
		return fmt.Sprintf("pinning service returned %s: %s", status, e.Reason)
	case e.Details != "":
		return fmt.Sprintf("pinning service returned %s: %s", status, e.Details)
	case e.Body != "":
		return fmt.Sprintf("pinning service returned %s: %s", status, e.Body)
	}
	return "pinning service returned " + status
}

// Duplicate returns true if the service rejected a request because the
// CID is already pinned or being pinned.
func (e *TransportError) Duplicate() bool {
	return e.StatusCode == http.StatusConflict || strings.EqualFold(e.Reason, reasonDuplicate)
}

func readTransportError(resp *http.Response) error {
	buf, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read error response (%s): %w", resp.Status, err)
	}

	te := &TransportError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(buf)),
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json")) {
		var body any
		if err := json.Unmarshal(buf, &body); err == nil {
			te.JSON = body
			te.Reason, te.Details = errorFields(body)
		}
	}
	return te
}

// errorFields extracts the reason and details from the error body shapes
// used by pinning services:
//
//	{"error": {"reason": "...", "details": "..."}}
//	{"error": "..."}
//	{"message": "..."}
func errorFields(body any) (reason, details string) {
	obj, ok := body.(map[string]any)
	if !ok {
		return "", ""
	}
	switch e := obj["error"].(type) {
	case map[string]any:
		reason, _ = e["reason"].(string)
		details, _ = e["details"].(string)
		if details == "" {
			details, _ = e["message"].(string)
		}
		return
	case string:
		return "", e
	}
	details, _ = obj["message"].(string)
	return "", details
}
