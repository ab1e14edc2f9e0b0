package pin_test

import (
	"reflect"
	"testing"

	"github.com/ipfs/go-cid"
	"go.sia.tech/minty/pin"
)

func TestParseCID(t *testing.T) {
	const v1 = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
	const v0 = "QmRtaUc7FYQvijR3FHDtyu5M1PXfp6NCJmN4gG8jmEJgpj"

	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{v1, v1, false},
		{v0, v0, false},
		{"ipfs://" + v1, v1, false},
		{"ipfs://ipfs/" + v1, v1, false},
		{"/ipfs/" + v1, v1, false},
		{"ipfs://" + v1 + "/metadata.json", v1, false},
		{"  " + v0 + "\n", v0, false},
		{"ipfs://", "", true},
		{"bafy123", "", true},
		{"", "", true},
	}

	for _, test := range tests {
		c, err := pin.ParseCID(test.input)
		if test.err {
			if err == nil {
				t.Errorf("%q: expected error", test.input)
			}
			continue
		} else if err != nil {
			t.Errorf("%q: %v", test.input, err)
			continue
		}
		if c.String() != test.want {
			t.Errorf("%q: expected %s, got %s", test.input, test.want, c)
		}
	}
}

func TestParseURI(t *testing.T) {
	const v1 = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

	tests := []struct {
		input string
		path  []string
	}{
		{v1, nil},
		{"ipfs://" + v1, nil},
		{"ipfs://" + v1 + "/", nil},
		{"ipfs://" + v1 + "/metadata.json", []string{"metadata.json"}},
		{"ipfs://ipfs/" + v1 + "/images//cover.png", []string{"images", "cover.png"}},
		{"/ipfs/" + v1 + "/a/b/c", []string{"a", "b", "c"}},
	}

	for _, test := range tests {
		c, path, err := pin.ParseURI(test.input)
		if err != nil {
			t.Errorf("%q: %v", test.input, err)
			continue
		} else if c.String() != v1 {
			t.Errorf("%q: expected %s, got %s", test.input, v1, c)
		} else if !reflect.DeepEqual(path, test.path) {
			t.Errorf("%q: expected path %q, got %q", test.input, test.path, path)
		}
	}

	if _, _, err := pin.ParseURI("ipfs:///metadata.json"); err == nil {
		t.Fatal("expected error for missing cid")
	}
}

func TestURI(t *testing.T) {
	c := cid.MustParse("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")
	uri := pin.URI(c)
	if uri != "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi" {
		t.Fatalf("unexpected uri %q", uri)
	}

	parsed, err := pin.ParseCID(uri)
	if err != nil {
		t.Fatal(err)
	} else if !parsed.Equals(c) {
		t.Fatalf("expected %s, got %s", c, parsed)
	}
}
