package pin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// URIScheme is the scheme prefix of user-facing IPFS URIs.
const URIScheme = "ipfs://"

// ParseURI parses a bare CID or an ipfs:// URI into its root CID and the
// path segments following it.
func ParseURI(s string) (cid.Cid, []string, error) {
	v := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(v, URIScheme):
		v = strings.TrimPrefix(v, URIScheme)
		// some tools produce ipfs://ipfs/<cid>
		v = strings.TrimPrefix(v, "ipfs/")
	case strings.HasPrefix(v, "/ipfs/"):
		v = strings.TrimPrefix(v, "/ipfs/")
	}
	var path []string
	if i := strings.IndexByte(v, '/'); i >= 0 {
		for _, seg := range strings.Split(v[i+1:], "/") {
			if seg != "" {
				path = append(path, seg)
			}
		}
		v = v[:i]
	}
	if v == "" {
		return cid.Undef, nil, errors.New("empty cid")
	}

	c, err := cid.Decode(v)
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("failed to parse cid %q: %w", s, err)
	}
	return c, path, nil
}

// ParseCID parses a bare CID or an ipfs:// URI. Any path following the CID
// is ignored, so "ipfs://bafy.../metadata.json" resolves to the root CID.
func ParseCID(s string) (cid.Cid, error) {
	c, _, err := ParseURI(s)
	return c, err
}

// URI returns the ipfs:// URI of c.
func URI(c cid.Cid) string {
	return URIScheme + c.String()
}
