package pinning_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.sia.tech/jape"
	"go.sia.tech/minty/config"
	"go.sia.tech/minty/pinning"
	"go.uber.org/zap/zaptest"
	"lukechampine.com/frand"
)

func randomCID(t *testing.T) cid.Cid {
	t.Helper()
	mh, err := multihash.Encode(frand.Bytes(32), multihash.SHA2_256)
	if err != nil {
		t.Fatal(err)
	}
	return cid.NewCidV1(cid.Raw, mh)
}

func newClient(t *testing.T, endpoint string) *pinning.Client {
	t.Helper()
	c, err := pinning.NewClient(config.PinningService{
		Name:        "test",
		Endpoint:    endpoint,
		AccessToken: "secret",
	}, pinning.WithLog(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func checkAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", got)
	}
}

func TestClientAdd(t *testing.T) {
	c := randomCID(t)

	srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
		"POST /pins": func(jc jape.Context) {
			checkAuth(t, jc.Request)

			var req map[string]any
			if err := json.NewDecoder(jc.Request.Body).Decode(&req); err != nil {
				t.Error(err)
				return
			}
			if req["cid"] != c.String() {
				t.Errorf("expected cid %q, got %v", c, req["cid"])
			} else if req["name"] != "asset.png" {
				t.Errorf("expected name asset.png, got %v", req["name"])
			} else if origins, ok := req["origins"].([]any); !ok || len(origins) != 1 {
				t.Errorf("expected 1 origin, got %v", req["origins"])
			}

			jc.ResponseWriter.Header().Set("Content-Type", "application/json")
			jc.ResponseWriter.WriteHeader(http.StatusAccepted)
			json.NewEncoder(jc.ResponseWriter).Encode(map[string]any{
				"requestid": "abc",
				"status":    "queued",
				"created":   "2026-01-01T00:00:00Z",
				"pin":       map[string]any{"cid": c.String(), "name": "asset.png"},
				"delegates": []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ"},
			})
		},
	}))
	defer srv.Close()

	client := newClient(t, srv.URL+"/")
	resp, err := client.Add(context.Background(), c, pinning.AddOptions{
		Name:    "asset.png",
		Origins: []string{"/ip4/127.0.0.1/tcp/4002"},
	})
	if err != nil {
		t.Fatal(err)
	} else if resp.RequestID != "abc" {
		t.Fatalf("expected request id abc, got %q", resp.RequestID)
	} else if resp.Status != pinning.StatusQueued {
		t.Fatalf("expected status queued, got %q", resp.Status)
	} else if !resp.Pin.CID.Equals(c) {
		t.Fatalf("expected cid %s, got %s", c, resp.Pin.CID)
	} else if len(resp.Delegates) != 1 {
		t.Fatalf("expected 1 delegate, got %d", len(resp.Delegates))
	}
}

func TestClientCount(t *testing.T) {
	c := randomCID(t)

	srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
		"GET /pins": func(jc jape.Context) {
			checkAuth(t, jc.Request)
			q := jc.Request.URL.Query()
			if q.Get("cid") != c.String() {
				t.Errorf("expected cid filter %q, got %q", c, q.Get("cid"))
			} else if q.Get("status") != "queued,pinning,pinned" {
				t.Errorf("unexpected status filter %q", q.Get("status"))
			}
			jc.Encode(pinning.ListResponse{Count: 2})
		},
	}))
	defer srv.Close()

	n, err := newClient(t, srv.URL).Count(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	} else if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
}

func TestClientGet(t *testing.T) {
	c := randomCID(t)

	srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
		"GET /pins/:id": func(jc jape.Context) {
			checkAuth(t, jc.Request)
			var id string
			if err := jc.DecodeParam("id", &id); err != nil {
				return
			}
			jc.Encode(pinning.PinStatus{
				RequestID: id,
				Status:    pinning.StatusFailed,
				Pin:       pinning.Pin{CID: c},
				Info:      map[string]any{"reason": "quota exceeded"},
			})
		},
	}))
	defer srv.Close()

	resp, err := newClient(t, srv.URL).Get(context.Background(), "req-1")
	if err != nil {
		t.Fatal(err)
	} else if resp.RequestID != "req-1" {
		t.Fatalf("expected request id req-1, got %q", resp.RequestID)
	} else if resp.Status != pinning.StatusFailed {
		t.Fatalf("expected status failed, got %q", resp.Status)
	} else if resp.Info["reason"] != "quota exceeded" {
		t.Fatalf("unexpected info %v", resp.Info)
	} else if !resp.Pin.CID.Equals(c) {
		t.Fatalf("expected cid %s, got %s", c, resp.Pin.CID)
	}
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
		"GET /pins/:id": func(jc jape.Context) {
			jc.ResponseWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
			jc.ResponseWriter.WriteHeader(http.StatusConflict)
			jc.ResponseWriter.Write([]byte(`{"error":{"reason":"DUPLICATE_OBJECT","details":"already pinned"}}`))
		},
		"GET /pins": func(jc jape.Context) {
			jc.ResponseWriter.Header().Set("Content-Type", "text/plain")
			jc.ResponseWriter.WriteHeader(http.StatusUnauthorized)
			jc.ResponseWriter.Write([]byte("bad token\n"))
		},
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	_, err := client.Get(context.Background(), "req-1")
	var te *pinning.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	} else if te.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", te.StatusCode)
	} else if te.Reason != "DUPLICATE_OBJECT" || te.Details != "already pinned" {
		t.Fatalf("unexpected decoded body %q %q", te.Reason, te.Details)
	} else if !te.Duplicate() {
		t.Fatal("expected duplicate error")
	}

	_, err = client.Count(context.Background(), randomCID(t))
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	} else if te.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", te.StatusCode)
	} else if te.Body != "bad token" || te.Reason != "" {
		t.Fatalf("unexpected body %q reason %q", te.Body, te.Reason)
	} else if te.Duplicate() {
		t.Fatal("unexpected duplicate error")
	} else if te.JSON != nil {
		t.Fatalf("expected no decoded body, got %v", te.JSON)
	}
}

func TestClientTransportErrorShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		reason  string
		details string
	}{
		{"nested", `{"error":{"reason":"BAD_REQUEST","details":"invalid cid"}}`, "BAD_REQUEST", "invalid cid"},
		{"string", `{"error":"Invalid authentication token"}`, "", "Invalid authentication token"},
		{"message", `{"message":"rate limited","code":429}`, "", "rate limited"},
		{"array", `["unexpected"]`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
				"GET /pins/:id": func(jc jape.Context) {
					jc.ResponseWriter.Header().Set("Content-Type", "application/json")
					jc.ResponseWriter.WriteHeader(http.StatusBadRequest)
					jc.ResponseWriter.Write([]byte(tt.body))
				},
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL).Get(context.Background(), "req-1")
			var te *pinning.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("expected transport error, got %v", err)
			} else if te.Reason != tt.reason || te.Details != tt.details {
				t.Fatalf("expected %q %q, got %q %q", tt.reason, tt.details, te.Reason, te.Details)
			} else if te.JSON == nil {
				t.Fatal("expected decoded body")
			} else if te.Body != tt.body {
				t.Fatalf("expected raw body %q, got %q", tt.body, te.Body)
			}
		})
	}

	// the full body is kept, not just the known fields
	srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
		"GET /pins/:id": func(jc jape.Context) {
			jc.ResponseWriter.Header().Set("Content-Type", "application/json")
			jc.ResponseWriter.WriteHeader(http.StatusTooManyRequests)
			jc.ResponseWriter.Write([]byte(`{"error":"slow down","retryAfter":30}`))
		},
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Get(context.Background(), "req-1")
	var te *pinning.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	} else if body, ok := te.JSON.(map[string]any); !ok || body["retryAfter"] != float64(30) {
		t.Fatalf("unexpected decoded body %v", te.JSON)
	}
}

func TestNewClientConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.PinningService
		field string
	}{
		{"missing name", config.PinningService{Endpoint: "https://example.com", AccessToken: "x"}, "name"},
		{"missing endpoint", config.PinningService{Name: "svc", AccessToken: "x"}, "endpoint"},
		{"bad scheme", config.PinningService{Name: "svc", Endpoint: "ftp://example.com", AccessToken: "x"}, "endpoint"},
		{"missing token", config.PinningService{Name: "svc", Endpoint: "https://example.com"}, "accessToken"},
		{"unset env", config.PinningService{Name: "svc", Endpoint: "https://example.com", AccessToken: "env:MINTY_TEST_UNSET_TOKEN"}, "accessToken"},
		{"unset env dollar", config.PinningService{Name: "svc", Endpoint: "https://example.com", AccessToken: "$$MINTY_TEST_UNSET_TOKEN"}, "accessToken"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := pinning.NewClient(test.cfg)
			var ce *pinning.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected config error, got %v", err)
			} else if ce.Field != test.field {
				t.Fatalf("expected field %q, got %q", test.field, ce.Field)
			}
		})
	}
}

func TestEnvToken(t *testing.T) {
	var requests int
	srv := httptest.NewServer(jape.Mux(map[string]jape.Handler{
		"GET /pins": func(jc jape.Context) {
			requests++
			if got := jc.Request.Header.Get("Authorization"); got != "Bearer from-env" {
				t.Errorf("expected token from env, got %q", got)
			}
			jc.Encode(pinning.ListResponse{})
		},
	}))
	defer srv.Close()

	cfg := config.PinningService{Name: "svc", Endpoint: srv.URL, AccessToken: "env:MINTY_TEST_TOKEN"}
	if _, err := pinning.NewClient(cfg); err == nil {
		t.Fatal("expected error for unset variable")
	} else if requests != 0 {
		t.Fatal("expected no requests before the token is resolved")
	}

	t.Setenv("MINTY_TEST_TOKEN", "from-env")
	client, err := pinning.NewClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// the token is resolved at construction
	t.Setenv("MINTY_TEST_TOKEN", "changed")
	if _, err := client.Count(context.Background(), randomCID(t)); err != nil {
		t.Fatal(err)
	} else if requests != 1 {
		t.Fatalf("expected 1 request, got %d", requests)
	}
}

func TestTokenSourceOption(t *testing.T) {
	var calls int
	_, err := pinning.NewClient(config.PinningService{Name: "svc", Endpoint: "https://example.com"}, pinning.WithTokenSource(pinning.TokenFunc(func() (string, error) {
		calls++
		return "tok", nil
	})))
	if err != nil {
		t.Fatal(err)
	} else if calls != 1 {
		t.Fatalf("expected token source to be called once, got %d", calls)
	}
}
